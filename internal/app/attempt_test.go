package app_test

import (
	"math/rand"
	"testing"
	"time"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func threeQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Capitals",
		TimeLimit: 5,
		Status:    domain.StatusPublished,
		Questions: []domain.Question{
			{ID: "q1", Text: "Capital of France?", Type: domain.MultipleChoice, Options: []string{"Berlin", "Paris", "Rome"}, CorrectIndex: 1},
			{ID: "q2", Text: "Capital of Italy?", Type: domain.ShortAnswer, CorrectAnswerText: "Rome"},
			{ID: "q3", Text: "Madrid is in Spain.", Type: domain.TrueFalse, CorrectIndex: 0},
		},
	}
}

func newAttempt(quiz domain.Quiz, opts ...app.AttemptOption) *app.Attempt {
	opts = append([]app.AttemptOption{app.WithAttemptClock(fixedClock), app.WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return app.NewAttempt(quiz, "u2", opts...)
}

func currentID(t *testing.T, a *app.Attempt) string {
	t.Helper()
	q, err := a.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	return q.ID
}

func TestAttemptGatesInOrder(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Password = "opensesame"
	quiz.Instructions = "Work alone."
	a := newAttempt(quiz, app.WithCheckpoint(domain.Checkpoint{QuestionIndex: 1, TimeLeft: 30}))

	if a.State() != app.StateNotStarted {
		t.Fatalf("expected not started, got %s", a.State())
	}
	if err := a.Answer(domain.Choice(0)); err != domain.ErrInvalidState {
		t.Fatalf("answers before starting should fail, got %v", err)
	}
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if a.State() != app.StatePasswordCheck {
		t.Fatalf("expected password gate, got %s", a.State())
	}
	if err := a.VerifyPassword(""); err != domain.ErrPasswordRequired {
		t.Fatalf("expected password required, got %v", err)
	}
	if err := a.VerifyPassword("guess"); err != domain.ErrWrongPassword {
		t.Fatalf("expected wrong password, got %v", err)
	}
	if a.State() != app.StatePasswordCheck {
		t.Fatalf("a wrong password must leave the gate closed, got %s", a.State())
	}
	if err := a.VerifyPassword("opensesame"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if a.State() != app.StateInstructions {
		t.Fatalf("expected instructions, got %s", a.State())
	}
	if err := a.AcknowledgeInstructions(); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if a.State() != app.StateResumeOffer {
		t.Fatalf("expected resume offer, got %s", a.State())
	}
	if err := a.Resume(false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if a.State() != app.StateInProgress || currentID(t, a) != "q1" {
		t.Fatalf("declining should start fresh at the first question")
	}
	if got := a.Progress().Remaining; got != 300 {
		t.Fatalf("expected 300 seconds, got %d", got)
	}
}

func TestAttemptWithoutGatesStartsImmediately(t *testing.T) {
	a := newAttempt(threeQuestionQuiz())
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if a.State() != app.StateInProgress {
		t.Fatalf("expected in progress, got %s", a.State())
	}
	if err := a.Begin(); err != domain.ErrInvalidState {
		t.Fatalf("begin twice should fail, got %v", err)
	}
}

func TestAttemptResumeRestoresProgress(t *testing.T) {
	cp := domain.Checkpoint{
		Attempt: domain.CheckpointAttempt{
			Answers: map[string]domain.Answer{"q1": domain.Choice(1)},
			Flagged: []string{"q1"},
			Order:   []int{0, 1, 2},
		},
		QuestionIndex: 1,
		TimeLeft:      42,
	}
	a := newAttempt(threeQuestionQuiz(), app.WithCheckpoint(cp))
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Resume(true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if currentID(t, a) != "q2" {
		t.Fatalf("expected to resume at q2")
	}
	p := a.Progress()
	if p.Remaining != 42 || p.Answered != 1 || p.Flagged != 1 {
		t.Fatalf("unexpected progress after resume: %+v", p)
	}
	if err := a.Resume(true); err != domain.ErrInvalidState {
		t.Fatalf("resume is only valid at the offer, got %v", err)
	}
}

func TestAttemptResumeIgnoresCorruptOrder(t *testing.T) {
	cp := domain.Checkpoint{
		Attempt:       domain.CheckpointAttempt{Order: []int{0, 0, 7}},
		QuestionIndex: 99,
		TimeLeft:      10,
	}
	a := newAttempt(threeQuestionQuiz(), app.WithCheckpoint(cp))
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Resume(true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got := a.Checkpoint().Attempt.Order
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected definition order, got %v", got)
	}
	if currentID(t, a) != "q3" {
		t.Fatalf("out of range positions clamp to the last question")
	}
}

func TestAttemptShuffleIsSeededAndKeepsKey(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions = append(quiz.Questions,
		domain.Question{ID: "q4", Text: "2+2?", Type: domain.MultipleChoice, Options: []string{"3", "4", "5", "6"}, CorrectIndex: 1},
		domain.Question{ID: "q5", Text: "3+3?", Type: domain.MultipleChoice, Options: []string{"6", "7", "8", "9"}, CorrectIndex: 0},
	)
	quiz.RandomizeQuestions = true
	quiz.RandomizeOptions = true

	first := app.NewAttempt(quiz, "u2", app.WithRand(rand.New(rand.NewSource(7))))
	second := app.NewAttempt(quiz, "u2", app.WithRand(rand.New(rand.NewSource(7))))
	if err := first.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := second.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	a, b := first.Checkpoint().Attempt, second.Checkpoint().Attempt
	if len(a.Order) != 5 {
		t.Fatalf("expected a full order, got %v", a.Order)
	}
	for i := range a.Order {
		if a.Order[i] != b.Order[i] {
			t.Fatalf("same seed should give the same order: %v vs %v", a.Order, b.Order)
		}
	}
	if _, ok := a.OptionOrder["q3"]; ok {
		t.Fatalf("true/false options must not be shuffled")
	}

	original := make(map[string]domain.Question)
	for _, q := range quiz.Questions {
		original[q.ID] = q
	}
	for _, q := range first.Quiz().Questions {
		if q.Type != domain.MultipleChoice {
			continue
		}
		want := original[q.ID].Options[original[q.ID].CorrectIndex]
		if q.Options[q.CorrectIndex] != want {
			t.Fatalf("%s: correct option moved from %q to %q", q.ID, want, q.Options[q.CorrectIndex])
		}
		perm := a.OptionOrder[q.ID]
		for pos, orig := range perm {
			if q.Options[pos] != original[q.ID].Options[orig] {
				t.Fatalf("%s: option order does not describe the layout", q.ID)
			}
		}
	}
}

func TestAttemptShufflesWithinSections(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions = append(quiz.Questions, domain.Question{ID: "q4", Text: "Extra", Type: domain.ShortAnswer, CorrectAnswerText: "x"})
	quiz.Sections = []domain.Section{
		{ID: "s1", Title: "One", QuestionIndices: []int{0, 1}},
		{ID: "s2", Title: "Two", QuestionIndices: []int{2, 3}},
	}
	quiz.RandomizeQuestions = true
	for seed := int64(0); seed < 20; seed++ {
		a := app.NewAttempt(quiz, "u2", app.WithRand(rand.New(rand.NewSource(seed))))
		if err := a.Begin(); err != nil {
			t.Fatalf("begin: %v", err)
		}
		order := a.Checkpoint().Attempt.Order
		if order[0] > 1 || order[1] > 1 || order[2] < 2 || order[3] < 2 {
			t.Fatalf("seed %d: questions left their section: %v", seed, order)
		}
	}
}

func TestAttemptConditionalQuestions(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions[1].Condition = &domain.Condition{DependsOn: 0, Operator: domain.OpEquals, Value: "1"}

	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Answer(domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if currentID(t, a) != "q3" {
		t.Fatalf("q2 should be hidden when q1 is not answered with option 1")
	}
	if err := a.Prev(); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if currentID(t, a) != "q1" {
		t.Fatalf("prev should skip the hidden question")
	}
	if err := a.Answer(domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if currentID(t, a) != "q2" {
		t.Fatalf("q2 should show once its condition holds")
	}
}

func TestConditionMet(t *testing.T) {
	questions := []domain.Question{{ID: "q1"}, {ID: "q2"}}
	answers := map[string]domain.Answer{"q1": domain.Text("Blue Whale")}

	cases := []struct {
		name string
		cond *domain.Condition
		want bool
	}{
		{"no condition", nil, true},
		{"out of range", &domain.Condition{DependsOn: 5, Operator: domain.OpEquals, Value: "x"}, true},
		{"unanswered", &domain.Condition{DependsOn: 1, Operator: domain.OpNotEquals, Value: "x"}, false},
		{"equals folds case", &domain.Condition{DependsOn: 0, Operator: domain.OpEquals, Value: "blue whale"}, true},
		{"not equals", &domain.Condition{DependsOn: 0, Operator: domain.OpNotEquals, Value: "shark"}, true},
		{"contains", &domain.Condition{DependsOn: 0, Operator: domain.OpContains, Value: "whale"}, true},
		{"contains misses", &domain.Condition{DependsOn: 0, Operator: domain.OpContains, Value: "dolphin"}, false},
	}
	for _, tc := range cases {
		if got := app.ConditionMet(tc.cond, questions, answers); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAttemptSubmitsWhenNothingIsVisible(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions = quiz.Questions[:2]
	quiz.Questions[0].Condition = &domain.Condition{DependsOn: 1, Operator: domain.OpEquals, Value: "Rome"}
	quiz.Questions[1].Condition = &domain.Condition{DependsOn: 0, Operator: domain.OpEquals, Value: "1"}

	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if a.State() != app.StateSubmitted || a.Reason() != app.SubmitSkipped {
		t.Fatalf("expected a skipped submission, got %s/%s", a.State(), a.Reason())
	}
}

func TestAttemptSectionGating(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Sections = []domain.Section{
		{ID: "s1", Title: "Europe", QuestionIndices: []int{0, 1}},
		{ID: "s2", Title: "Bonus", TimeLimit: 2, QuestionIndices: []int{2}},
	}
	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	p := a.Progress()
	if p.Section != 0 || p.SectionTitle != "Europe" || !p.HasNextSection {
		t.Fatalf("unexpected progress %+v", p)
	}
	if err := a.NextSection(); err != domain.ErrSectionIncomplete {
		t.Fatalf("expected incomplete section, got %v", err)
	}
	if err := a.Answer(domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := a.Next(); err != domain.ErrAtBoundary {
		t.Fatalf("next must stop at the section end, got %v", err)
	}
	if !a.Progress().AtSectionEnd {
		t.Fatalf("expected to be at the section end")
	}
	if err := a.Answer(domain.Text("rome")); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.NextSection(); err != nil {
		t.Fatalf("next section: %v", err)
	}
	if currentID(t, a) != "q3" || a.Progress().SectionTimeLimit != 2 {
		t.Fatalf("expected the bonus section, got %+v", a.Progress())
	}
	if err := a.Prev(); err != domain.ErrAtBoundary {
		t.Fatalf("prev must not leave the section, got %v", err)
	}
	if err := a.NextSection(); err != domain.ErrSectionIncomplete {
		t.Fatalf("expected incomplete final section, got %v", err)
	}
	if err := a.Answer(domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.NextSection(); err != domain.ErrAtBoundary {
		t.Fatalf("no section after the last, got %v", err)
	}
}

func TestAttemptNextStaysInSectionWhenRestIsHidden(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions = append(quiz.Questions, domain.Question{ID: "q4", Text: "Paris is in France.", Type: domain.TrueFalse, CorrectIndex: 0})
	quiz.Questions[1].Condition = &domain.Condition{DependsOn: 0, Operator: domain.OpEquals, Value: "1"}
	quiz.Questions[3].Condition = &domain.Condition{DependsOn: 2, Operator: domain.OpEquals, Value: "1"}
	quiz.Sections = []domain.Section{
		{ID: "s1", Title: "One", QuestionIndices: []int{0, 1}},
		{ID: "s2", Title: "Two", QuestionIndices: []int{2, 3}},
	}
	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Answer(domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !a.Progress().AtSectionEnd {
		t.Fatalf("a hidden remainder should put the student at the section end")
	}
	if err := a.Next(); err != domain.ErrAtBoundary {
		t.Fatalf("next must not cross into the following section, got %v", err)
	}
	if currentID(t, a) != "q1" || a.Progress().Section != 0 || a.State() != app.StateInProgress {
		t.Fatalf("expected to stay on q1 in the first section, got %+v", a.Progress())
	}
	if err := a.NextSection(); err != nil {
		t.Fatalf("next section: %v", err)
	}
	if currentID(t, a) != "q3" {
		t.Fatalf("expected the second section to start at q3")
	}

	if err := a.Answer(domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if a.State() != app.StateSubmitted || a.Reason() != app.SubmitSkipped {
		t.Fatalf("nothing left in the final section should submit, got %s/%s", a.State(), a.Reason())
	}
}

func TestAttemptAnswerValidation(t *testing.T) {
	a := newAttempt(threeQuestionQuiz())
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Answer(domain.Text("Paris")); err != domain.ErrInvalidAnswer {
		t.Fatalf("text on a choice question should fail, got %v", err)
	}
	if err := a.Answer(domain.Choice(3)); err != domain.ErrInvalidAnswer {
		t.Fatalf("out of range option should fail, got %v", err)
	}
	if err := a.Answer(domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Answer(domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	q, _ := a.Current()
	if q.Answer == nil || *q.Answer != domain.Choice(1) {
		t.Fatalf("the latest answer should replace the first, got %+v", q.Answer)
	}

	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	q, _ = a.Current()
	if len(q.Options) != 2 || q.Options[0] != "True" {
		t.Fatalf("true/false should render default labels, got %v", q.Options)
	}
	if err := a.Answer(domain.Choice(2)); err != domain.ErrInvalidAnswer {
		t.Fatalf("true/false takes 0 or 1, got %v", err)
	}
	if err := a.Answer(domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != domain.ErrAtBoundary {
		t.Fatalf("expected boundary at the end, got %v", err)
	}
}

func TestAttemptFlagsAndTabSwitches(t *testing.T) {
	a := newAttempt(threeQuestionQuiz())
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if on, _ := a.ToggleFlag(); !on {
		t.Fatalf("first toggle should flag")
	}
	if q, _ := a.Current(); !q.Flagged {
		t.Fatalf("current question should show as flagged")
	}
	if on, _ := a.ToggleFlag(); on {
		t.Fatalf("second toggle should unflag")
	}
	if _, err := a.ToggleFlag(); err != nil {
		t.Fatalf("toggle flag: %v", err)
	}
	for i := 1; i <= 3; i++ {
		n, err := a.RecordTabSwitch()
		if err != nil || n != i {
			t.Fatalf("tab switch %d: got %d, %v", i, n, err)
		}
	}
	sub, err := a.Submit(app.SubmitManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.TabSwitches != 3 || len(sub.Flagged) != 1 || sub.Reason != app.SubmitManual {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if _, err := a.Submit(app.SubmitManual); err != domain.ErrInvalidState {
		t.Fatalf("submit twice should fail, got %v", err)
	}
}

func TestAttemptTimer(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.TimeLimit = 2
	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	warnings := 0
	var status app.TickStatus
	for i := 0; i < 120; i++ {
		var err error
		status, err = a.Tick()
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if status.Warning {
			warnings++
			if status.Remaining != 60 {
				t.Fatalf("warning at %d seconds", status.Remaining)
			}
		}
	}
	if warnings != 1 {
		t.Fatalf("expected exactly one warning, got %d", warnings)
	}
	if !status.Expired || status.Remaining != 0 {
		t.Fatalf("expected expiry, got %+v", status)
	}
	if status, _ = a.Tick(); !status.Expired || status.Remaining != 0 {
		t.Fatalf("timer should stay at zero, got %+v", status)
	}
	if err := a.Answer(domain.Choice(1)); err != domain.ErrInvalidState {
		t.Fatalf("answers after expiry should fail, got %v", err)
	}
	if err := a.Next(); err != domain.ErrInvalidState {
		t.Fatalf("navigation after expiry should fail, got %v", err)
	}
	if _, err := a.Submit(app.SubmitTimeout); err != nil {
		t.Fatalf("submit after expiry: %v", err)
	}
	if a.Reason() != app.SubmitTimeout {
		t.Fatalf("expected timeout reason, got %s", a.Reason())
	}
}

func TestAttemptOneMinuteQuizNeverWarns(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.TimeLimit = 1
	a := newAttempt(quiz)
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 60; i++ {
		status, _ := a.Tick()
		if status.Warning {
			t.Fatalf("unexpected warning at %d", status.Remaining)
		}
	}
}

func TestAttemptCheckpointCapturesState(t *testing.T) {
	a := newAttempt(threeQuestionQuiz())
	if err := a.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Answer(domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := a.ToggleFlag(); err != nil {
		t.Fatalf("toggle flag: %v", err)
	}
	if _, err := a.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	cp := a.Checkpoint()
	if cp.QuestionIndex != 1 || cp.TimeLeft != 299 {
		t.Fatalf("unexpected checkpoint position %+v", cp)
	}
	if cp.Attempt.Answers["q1"] != domain.Choice(1) || len(cp.Attempt.Flagged) != 1 || cp.Attempt.Flagged[0] != "q2" {
		t.Fatalf("unexpected checkpoint attempt %+v", cp.Attempt)
	}
	if cp.Timestamp != fixedClock().UnixMilli() {
		t.Fatalf("expected the attempt clock in the checkpoint")
	}
}
