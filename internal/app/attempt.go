package app

import (
	"math/rand"
	"strings"
	"time"

	"quizmaster-service/internal/domain"
)

// AttemptState is a step of the quiz-taking flow.
type AttemptState string

const (
	StateNotStarted    AttemptState = "not_started"
	StatePasswordCheck AttemptState = "password_check"
	StateInstructions  AttemptState = "instructions"
	StateResumeOffer   AttemptState = "resume_offer"
	StateInProgress    AttemptState = "in_progress"
	StateSubmitted     AttemptState = "submitted"
)

// SubmitReason records what ended an attempt.
type SubmitReason string

const (
	SubmitManual  SubmitReason = "manual"
	SubmitTimeout SubmitReason = "timeout"
	// SubmitSkipped means every remaining question was hidden by its condition.
	SubmitSkipped SubmitReason = "skipped"
)

// timerWarningAt is the remaining-seconds mark that triggers a one-off warning.
const timerWarningAt = 60

// Attempt is the quiz-taking state machine for one user on one quiz. It is
// not safe for concurrent use; AttemptService serializes access.
//
// Questions keep their definition order in quiz.Questions; order maps the
// presented position to that index so scoring and conditions stay anchored
// to the definition while the student sees the randomized layout.
type Attempt struct {
	userID string
	quiz   domain.Quiz
	now    func() time.Time
	rnd    *rand.Rand

	state       AttemptState
	reason      SubmitReason
	order       []int
	optionOrder map[string][]int
	answers     map[string]domain.Answer
	flagged     []string
	position    int
	section     int
	remaining   int
	expired     bool
	tabSwitches int
	pending     *domain.Checkpoint
}

// AttemptOption customizes a new Attempt.
type AttemptOption func(*Attempt)

// WithAttemptClock overrides the wall clock used for checkpoint timestamps.
func WithAttemptClock(now func() time.Time) AttemptOption {
	return func(a *Attempt) { a.now = now }
}

// WithRand fixes the randomness source, for deterministic shuffles in tests.
func WithRand(rnd *rand.Rand) AttemptOption {
	return func(a *Attempt) { a.rnd = rnd }
}

// WithCheckpoint offers the saved progress for resumption once the entry gates pass.
func WithCheckpoint(cp domain.Checkpoint) AttemptOption {
	return func(a *Attempt) { a.pending = &cp }
}

// NewAttempt prepares an attempt; it does nothing visible until Begin.
func NewAttempt(quiz domain.Quiz, userID string, opts ...AttemptOption) *Attempt {
	a := &Attempt{
		userID:  userID,
		quiz:    cloneQuiz(quiz),
		now:     time.Now,
		state:   StateNotStarted,
		section: -1,
		answers: make(map[string]domain.Answer),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rnd == nil {
		a.rnd = rand.New(rand.NewSource(a.now().UnixNano()))
	}
	return a
}

// State returns the current step.
func (a *Attempt) State() AttemptState { return a.state }

// Reason returns why the attempt was submitted, if it was.
func (a *Attempt) Reason() SubmitReason { return a.reason }

// Quiz returns the quiz as this attempt sees it (options possibly shuffled).
func (a *Attempt) Quiz() domain.Quiz { return a.quiz }

// PendingCheckpoint returns the checkpoint on offer while the attempt waits at the resume gate.
func (a *Attempt) PendingCheckpoint() (domain.Checkpoint, bool) {
	if a.pending == nil {
		return domain.Checkpoint{}, false
	}
	return *a.pending, true
}

// Begin leaves NotStarted and enters the first applicable gate.
func (a *Attempt) Begin() error {
	if a.state != StateNotStarted {
		return domain.ErrInvalidState
	}
	a.advanceFrom(StateNotStarted)
	return nil
}

// VerifyPassword checks the quiz password. A mismatch leaves the attempt at
// the password gate; retries are unlimited.
func (a *Attempt) VerifyPassword(password string) error {
	if a.state != StatePasswordCheck {
		return domain.ErrInvalidState
	}
	if password == "" {
		return domain.ErrPasswordRequired
	}
	if password != a.quiz.Password {
		return domain.ErrWrongPassword
	}
	a.advanceFrom(StatePasswordCheck)
	return nil
}

// AcknowledgeInstructions confirms the student has read the instructions.
func (a *Attempt) AcknowledgeInstructions() error {
	if a.state != StateInstructions {
		return domain.ErrInvalidState
	}
	a.advanceFrom(StateInstructions)
	return nil
}

// Resume accepts or declines the saved checkpoint. Declining starts fresh;
// the caller is responsible for discarding the stored checkpoint.
func (a *Attempt) Resume(accept bool) error {
	if a.state != StateResumeOffer {
		return domain.ErrInvalidState
	}
	cp := a.pending
	a.pending = nil
	if accept && cp != nil {
		a.restore(*cp)
		return nil
	}
	a.startFresh()
	return nil
}

func (a *Attempt) advanceFrom(from AttemptState) {
	if from == StateNotStarted && a.quiz.Password != "" {
		a.state = StatePasswordCheck
		return
	}
	if (from == StateNotStarted || from == StatePasswordCheck) && a.quiz.Instructions != "" {
		a.state = StateInstructions
		return
	}
	if a.pending != nil {
		a.state = StateResumeOffer
		return
	}
	a.startFresh()
}

func (a *Attempt) startFresh() {
	a.state = StateInProgress
	a.answers = make(map[string]domain.Answer)
	a.flagged = nil
	a.remaining = a.quiz.TimeLimit * 60
	a.expired = false
	a.randomize()

	a.position = 0
	if len(a.quiz.Sections) > 0 {
		a.section = 0
		if first, ok := a.sectionFirst(0); ok {
			a.position = first
		}
	}
	a.settle()
}

func (a *Attempt) restore(cp domain.Checkpoint) {
	a.state = StateInProgress
	a.order = identity(len(a.quiz.Questions))
	if isPermutation(cp.Attempt.Order, len(a.quiz.Questions)) {
		a.order = append([]int(nil), cp.Attempt.Order...)
	}
	a.optionOrder = make(map[string][]int)
	for i := range a.quiz.Questions {
		q := &a.quiz.Questions[i]
		perm, ok := cp.Attempt.OptionOrder[q.ID]
		if ok && isPermutation(perm, len(q.Options)) {
			applyOptionOrder(q, perm)
			a.optionOrder[q.ID] = append([]int(nil), perm...)
		}
	}

	a.answers = make(map[string]domain.Answer, len(cp.Attempt.Answers))
	for id, ans := range cp.Attempt.Answers {
		a.answers[id] = ans
	}
	a.flagged = append([]string(nil), cp.Attempt.Flagged...)
	a.remaining = cp.TimeLeft
	a.expired = false

	a.position = clamp(cp.QuestionIndex, 0, len(a.order)-1)
	if len(a.quiz.Sections) > 0 {
		a.section = 0
		a.syncSection()
	}
	a.settle()
}

// randomize shuffles question order and option order once per fresh start.
// With sections, questions are only shuffled within their own section.
func (a *Attempt) randomize() {
	a.order = identity(len(a.quiz.Questions))
	a.optionOrder = make(map[string][]int)

	if a.quiz.RandomizeQuestions {
		if len(a.quiz.Sections) == 0 {
			shuffle(a.rnd, a.order)
		} else {
			for _, sec := range a.quiz.Sections {
				positions := validIndices(sec.QuestionIndices, len(a.order))
				vals := make([]int, len(positions))
				for i, p := range positions {
					vals[i] = a.order[p]
				}
				shuffle(a.rnd, vals)
				for i, p := range positions {
					a.order[p] = vals[i]
				}
			}
		}
	}

	if a.quiz.RandomizeOptions {
		for i := range a.quiz.Questions {
			q := &a.quiz.Questions[i]
			if !q.Type.ShufflesOptions() || len(q.Options) < 2 {
				continue
			}
			perm := identity(len(q.Options))
			shuffle(a.rnd, perm)
			applyOptionOrder(q, perm)
			a.optionOrder[q.ID] = perm
		}
	}
}

// applyOptionOrder reorders options so that new position i holds original
// option perm[i], and remaps CorrectIndex to follow the correct option.
func applyOptionOrder(q *domain.Question, perm []int) {
	shuffled := make([]string, len(perm))
	newCorrect := -1
	for i, orig := range perm {
		shuffled[i] = q.Options[orig]
		if orig == q.CorrectIndex {
			newCorrect = i
		}
	}
	q.Options = shuffled
	q.CorrectIndex = newCorrect
}

func (a *Attempt) questionAt(pos int) (domain.Question, bool) {
	if pos < 0 || pos >= len(a.order) {
		return domain.Question{}, false
	}
	idx := a.order[pos]
	if idx < 0 || idx >= len(a.quiz.Questions) {
		return domain.Question{}, false
	}
	return a.quiz.Questions[idx], true
}

// visible evaluates the question's condition against captured answers.
func (a *Attempt) visible(pos int) bool {
	q, ok := a.questionAt(pos)
	if !ok {
		return false
	}
	return ConditionMet(q.Condition, a.quiz.Questions, a.answers)
}

// ConditionMet evaluates a display condition. An unanswered dependency fails
// the condition; a dependency index outside the quiz passes it.
func ConditionMet(cond *domain.Condition, questions []domain.Question, answers map[string]domain.Answer) bool {
	if cond == nil {
		return true
	}
	if cond.DependsOn < 0 || cond.DependsOn >= len(questions) {
		return true
	}
	ans, ok := answers[questions[cond.DependsOn].ID]
	if !ok {
		return false
	}
	got := strings.ToLower(ans.String())
	want := strings.ToLower(cond.Value)
	switch cond.Operator {
	case domain.OpEquals:
		return got == want
	case domain.OpNotEquals:
		return got != want
	case domain.OpContains:
		return strings.Contains(got, want) || strings.Contains(want, got)
	default:
		return true
	}
}

// settle moves the pointer forward past hidden questions. When nothing
// displayable remains the attempt is submitted.
func (a *Attempt) settle() {
	if target, ok := a.nextVisible(a.position); ok {
		a.position = target
		a.syncSection()
		return
	}
	a.finish(SubmitSkipped)
}

func (a *Attempt) nextVisible(from int) (int, bool) {
	for p := from; p < len(a.order); p++ {
		if a.visible(p) {
			return p, true
		}
	}
	return 0, false
}

func (a *Attempt) sectionOf(pos int) int {
	for i, sec := range a.quiz.Sections {
		for _, p := range sec.QuestionIndices {
			if p == pos {
				return i
			}
		}
	}
	return -1
}

func (a *Attempt) syncSection() {
	if len(a.quiz.Sections) == 0 {
		return
	}
	if s := a.sectionOf(a.position); s >= 0 {
		a.section = s
	}
}

func (a *Attempt) sectionFirst(s int) (int, bool) {
	positions := validIndices(a.quiz.Sections[s].QuestionIndices, len(a.order))
	if len(positions) == 0 {
		return 0, false
	}
	first := positions[0]
	for _, p := range positions[1:] {
		if p < first {
			first = p
		}
	}
	return first, true
}

// bounds returns the navigable range: the current section, or the whole quiz.
func (a *Attempt) bounds() (int, int) {
	if a.section < 0 || a.section >= len(a.quiz.Sections) {
		return 0, len(a.order) - 1
	}
	positions := validIndices(a.quiz.Sections[a.section].QuestionIndices, len(a.order))
	if len(positions) == 0 {
		return 0, len(a.order) - 1
	}
	first, last := positions[0], positions[0]
	for _, p := range positions[1:] {
		if p < first {
			first = p
		}
		if p > last {
			last = p
		}
	}
	return first, last
}

// sectionComplete reports whether every displayable question of section s
// has an answer. Flags do not count.
func (a *Attempt) sectionComplete(s int) bool {
	for _, p := range validIndices(a.quiz.Sections[s].QuestionIndices, len(a.order)) {
		if !a.visible(p) {
			continue
		}
		q, _ := a.questionAt(p)
		if _, ok := a.answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

func (a *Attempt) requireActive() error {
	if a.state != StateInProgress || a.expired {
		return domain.ErrInvalidState
	}
	return nil
}

// Next moves one question forward within the current section.
func (a *Attempt) Next() error {
	if err := a.requireActive(); err != nil {
		return err
	}
	_, last := a.bounds()
	if a.position >= last {
		return domain.ErrAtBoundary
	}
	target, ok := a.nextVisibleWithin(a.position+1, last)
	if !ok {
		// Sections are only left through NextSection.
		if a.hasLaterSection() {
			return domain.ErrAtBoundary
		}
		a.finish(SubmitSkipped)
		return nil
	}
	a.position = target
	return nil
}

func (a *Attempt) nextVisibleWithin(from, last int) (int, bool) {
	for p := from; p <= last && p < len(a.order); p++ {
		if a.visible(p) {
			return p, true
		}
	}
	return 0, false
}

func (a *Attempt) hasLaterSection() bool {
	if a.section < 0 {
		return false
	}
	for s := a.section + 1; s < len(a.quiz.Sections); s++ {
		if _, ok := a.sectionFirst(s); ok {
			return true
		}
	}
	return false
}

// Prev moves one displayable question back within the current section.
func (a *Attempt) Prev() error {
	if err := a.requireActive(); err != nil {
		return err
	}
	first, _ := a.bounds()
	for p := a.position - 1; p >= first; p-- {
		if a.visible(p) {
			a.position = p
			return nil
		}
	}
	return domain.ErrAtBoundary
}

// NextSection enters the following section once the current one is fully answered.
func (a *Attempt) NextSection() error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if a.section < 0 {
		return domain.ErrAtBoundary
	}
	if !a.sectionComplete(a.section) {
		return domain.ErrSectionIncomplete
	}
	for s := a.section + 1; s < len(a.quiz.Sections); s++ {
		first, ok := a.sectionFirst(s)
		if !ok {
			continue
		}
		a.section = s
		a.position = first
		a.settle()
		return nil
	}
	return domain.ErrAtBoundary
}

// Answer records the answer for the current question, replacing any earlier one.
func (a *Attempt) Answer(ans domain.Answer) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	q, ok := a.questionAt(a.position)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if !ans.Fits(q) {
		return domain.ErrInvalidAnswer
	}
	if ans.Kind == domain.AnswerChoice && ans.Index >= optionCount(q) {
		return domain.ErrInvalidAnswer
	}
	a.answers[q.ID] = ans
	return nil
}

func optionCount(q domain.Question) int {
	if q.Type == domain.TrueFalse && len(q.Options) == 0 {
		return 2
	}
	return len(q.Options)
}

// ToggleFlag marks or unmarks the current question for review and reports the new state.
func (a *Attempt) ToggleFlag() (bool, error) {
	if err := a.requireActive(); err != nil {
		return false, err
	}
	q, ok := a.questionAt(a.position)
	if !ok {
		return false, domain.ErrQuestionNotFound
	}
	for i, id := range a.flagged {
		if id == q.ID {
			a.flagged = append(a.flagged[:i], a.flagged[i+1:]...)
			return false, nil
		}
	}
	a.flagged = append(a.flagged, q.ID)
	return true, nil
}

// RecordTabSwitch counts a tab switch. It is advisory and never blocks the attempt.
func (a *Attempt) RecordTabSwitch() (int, error) {
	if a.state != StateInProgress {
		return 0, domain.ErrInvalidState
	}
	a.tabSwitches++
	return a.tabSwitches, nil
}

// TickStatus is the timer state after one tick.
type TickStatus struct {
	Remaining int  `json:"remaining"`
	Warning   bool `json:"warning"`
	Expired   bool `json:"expired"`
}

// Tick advances the countdown by one second. Once it reaches zero the timer
// stops and the attempt only accepts Submit.
func (a *Attempt) Tick() (TickStatus, error) {
	if a.state != StateInProgress {
		return TickStatus{}, domain.ErrInvalidState
	}
	if !a.expired {
		if a.remaining > 0 {
			a.remaining--
		}
		if a.remaining <= 0 {
			a.expired = true
		}
	}
	return TickStatus{
		Remaining: a.remaining,
		Warning:   !a.expired && a.remaining == timerWarningAt,
		Expired:   a.expired,
	}, nil
}

// Submission is what an attempt hands to grading.
type Submission struct {
	Questions   []domain.Question
	Answers     map[string]domain.Answer
	Flagged     []string
	TabSwitches int
	Reason      SubmitReason
	OptionOrder map[string][]int
}

// Submit ends the attempt.
func (a *Attempt) Submit(reason SubmitReason) (Submission, error) {
	if a.state != StateInProgress {
		return Submission{}, domain.ErrInvalidState
	}
	a.finish(reason)
	return a.Submission(), nil
}

func (a *Attempt) finish(reason SubmitReason) {
	a.state = StateSubmitted
	a.reason = reason
}

// Submission returns the final answers; meaningful once the state is Submitted.
func (a *Attempt) Submission() Submission {
	answers := make(map[string]domain.Answer, len(a.answers))
	for id, ans := range a.answers {
		answers[id] = ans
	}
	return Submission{
		Questions:   a.quiz.Questions,
		Answers:     answers,
		Flagged:     append([]string(nil), a.flagged...),
		TabSwitches: a.tabSwitches,
		Reason:      a.reason,
		OptionOrder: a.copyOptionOrder(),
	}
}

// Checkpoint captures the resumable progress.
func (a *Attempt) Checkpoint() domain.Checkpoint {
	answers := make(map[string]domain.Answer, len(a.answers))
	for id, ans := range a.answers {
		answers[id] = ans
	}
	return domain.Checkpoint{
		Attempt: domain.CheckpointAttempt{
			Answers:     answers,
			Flagged:     append([]string{}, a.flagged...),
			Order:       append([]int(nil), a.order...),
			OptionOrder: a.copyOptionOrder(),
		},
		QuestionIndex: a.position,
		TimeLeft:      a.remaining,
		Timestamp:     a.now().UnixMilli(),
	}
}

func (a *Attempt) copyOptionOrder() map[string][]int {
	if len(a.optionOrder) == 0 {
		return nil
	}
	out := make(map[string][]int, len(a.optionOrder))
	for id, perm := range a.optionOrder {
		out[id] = append([]int(nil), perm...)
	}
	return out
}

// QuestionView is the student-facing rendering of a question; it carries no answer key.
type QuestionView struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Type      domain.QuestionType `json:"type"`
	Options   []string            `json:"options,omitempty"`
	MediaURL  string              `json:"mediaUrl,omitempty"`
	MediaType string              `json:"mediaType,omitempty"`
	Points    int                 `json:"points"`
	Answer    *domain.Answer      `json:"answer,omitempty"`
	Flagged   bool                `json:"flagged"`
}

// Progress summarizes where the student is.
type Progress struct {
	Position         int    `json:"position"`
	Total            int    `json:"total"`
	Answered         int    `json:"answered"`
	Flagged          int    `json:"flagged"`
	Remaining        int    `json:"remaining"`
	Section          int    `json:"section"`
	SectionCount     int    `json:"sectionCount"`
	SectionTitle     string `json:"sectionTitle,omitempty"`
	SectionTimeLimit int    `json:"sectionTimeLimit,omitempty"`
	CanGoBack        bool   `json:"canGoBack"`
	AtSectionEnd     bool   `json:"atSectionEnd"`
	HasNextSection   bool   `json:"hasNextSection"`
	TabSwitches      int    `json:"tabSwitches"`
}

// Current returns the question on screen.
func (a *Attempt) Current() (QuestionView, error) {
	if a.state != StateInProgress {
		return QuestionView{}, domain.ErrInvalidState
	}
	q, ok := a.questionAt(a.position)
	if !ok {
		return QuestionView{}, domain.ErrQuestionNotFound
	}
	view := QuestionView{
		ID:        q.ID,
		Text:      q.Text,
		Type:      q.Type,
		Options:   append([]string(nil), q.Options...),
		MediaURL:  q.MediaURL,
		MediaType: q.MediaType,
		Points:    q.Weight(),
	}
	if q.Type == domain.TrueFalse && len(view.Options) == 0 {
		view.Options = []string{"True", "False"}
	}
	if ans, ok := a.answers[q.ID]; ok {
		view.Answer = &ans
	}
	for _, id := range a.flagged {
		if id == q.ID {
			view.Flagged = true
			break
		}
	}
	return view, nil
}

// Progress returns the navigation summary.
func (a *Attempt) Progress() Progress {
	first, last := a.bounds()
	_, more := a.nextVisibleWithin(a.position+1, last)
	p := Progress{
		Position:     a.position,
		Total:        len(a.order),
		Answered:     len(a.answers),
		Flagged:      len(a.flagged),
		Remaining:    a.remaining,
		Section:      a.section,
		SectionCount: len(a.quiz.Sections),
		CanGoBack:    a.position > first,
		AtSectionEnd: !more,
		TabSwitches:  a.tabSwitches,
	}
	if a.section >= 0 && a.section < len(a.quiz.Sections) {
		sec := a.quiz.Sections[a.section]
		p.SectionTitle = sec.Title
		p.SectionTimeLimit = sec.TimeLimit
		p.HasNextSection = a.section < len(a.quiz.Sections)-1
	}
	return p
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	out := q
	out.Questions = make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		if question.Condition != nil {
			cond := *question.Condition
			question.Condition = &cond
		}
		out.Questions[i] = question
	}
	out.Sections = make([]domain.Section, len(q.Sections))
	for i, sec := range q.Sections {
		sec.QuestionIndices = append([]int(nil), sec.QuestionIndices...)
		out.Sections[i] = sec
	}
	return out
}

// shuffle is an in-place Fisher-Yates shuffle.
func shuffle(rnd *rand.Rand, xs []int) {
	for i := len(xs) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

func identity(n int) []int {
	xs := make([]int, n)
	for i := range xs {
		xs[i] = i
	}
	return xs
}

func isPermutation(xs []int, n int) bool {
	if len(xs) != n {
		return false
	}
	seen := make([]bool, n)
	for _, x := range xs {
		if x < 0 || x >= n || seen[x] {
			return false
		}
		seen[x] = true
	}
	return true
}

func validIndices(xs []int, n int) []int {
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if x >= 0 && x < n {
			out = append(out, x)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
