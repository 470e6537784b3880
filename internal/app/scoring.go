package app

import (
	"math"
	"strings"
	"time"

	"quizmaster-service/internal/domain"
)

// ScoreSummary is the outcome of auto-scoring one submission.
type ScoreSummary struct {
	TotalQuestions int
	CorrectCount   int
	EarnedPoints   int
	TotalPoints    int
	Score          int
}

// IsCorrect decides a single question. Text answers match after trimming and
// case folding; an empty answer never matches. Everything else compares the
// selected index.
func IsCorrect(q domain.Question, ans domain.Answer, answered bool) bool {
	if !answered {
		return false
	}
	if q.Type.IsText() {
		if ans.Kind != domain.AnswerText {
			return false
		}
		given := strings.ToLower(strings.TrimSpace(ans.Text))
		want := strings.ToLower(strings.TrimSpace(q.CorrectAnswerText))
		return given != "" && want != "" && given == want
	}
	return ans.Kind == domain.AnswerChoice && ans.Index == q.CorrectIndex
}

// Score grades every question in definition order.
func Score(questions []domain.Question, answers map[string]domain.Answer) ScoreSummary {
	s := ScoreSummary{TotalQuestions: len(questions)}
	for _, q := range questions {
		points := q.Weight()
		s.TotalPoints += points
		ans, ok := answers[q.ID]
		if IsCorrect(q, ans, ok) {
			s.CorrectCount++
			s.EarnedPoints += points
		}
	}
	s.Score = percent(s.EarnedPoints, s.TotalPoints)
	return s
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// InitialStatus is the grading status a fresh result starts in.
func InitialStatus(mode domain.GradingMode) domain.GradingStatus {
	if mode == domain.GradingManual {
		return domain.StatusPending
	}
	return domain.StatusAuto
}

func visibleUnder(policy domain.Visibility, at *time.Time, result domain.Result, now time.Time) bool {
	switch policy {
	case domain.VisibleNever:
		return false
	case domain.VisibleAfterGrading:
		return result.GradingStatus.IsFinal()
	case domain.VisibleScheduled:
		return at != nil && !now.Before(*at)
	default:
		return true
	}
}

// CanShowGrades applies the quiz's showGrades policy.
func CanShowGrades(quiz domain.Quiz, result domain.Result, now time.Time) bool {
	return visibleUnder(quiz.ShowGrades, quiz.GradesTime, result, now)
}

// CanShowAnswers applies the quiz's showAnswers policy.
func CanShowAnswers(quiz domain.Quiz, result domain.Result, now time.Time) bool {
	return visibleUnder(quiz.ShowAnswers, quiz.AnswersTime, result, now)
}

// CanShowResults applies the grading mode.
func CanShowResults(quiz domain.Quiz, result domain.Result, now time.Time) bool {
	switch quiz.GradingMode {
	case domain.GradingManual:
		return result.GradingStatus.IsFinal()
	case domain.GradingAutoDelayed:
		return quiz.ResultsTime == nil || !now.Before(*quiz.ResultsTime)
	default:
		return true
	}
}

// AnswerReview is one row of a result's answer breakdown.
type AnswerReview struct {
	QuestionID    string `json:"questionId"`
	Text          string `json:"text"`
	YourAnswer    string `json:"yourAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
	Explanation   string `json:"explanation,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

// ResultView is a result filtered through the visibility policy.
type ResultView struct {
	ResultID       string               `json:"resultId"`
	QuizID         string               `json:"quizId"`
	QuizTitle      string               `json:"quizTitle"`
	Date           time.Time            `json:"date"`
	GradingStatus  domain.GradingStatus `json:"gradingStatus"`
	ScoreVisible   bool                 `json:"scoreVisible"`
	Score          *int                 `json:"score,omitempty"`
	Grade          string               `json:"grade,omitempty"`
	EarnedPoints   *int                 `json:"earnedPoints,omitempty"`
	TotalPoints    *int                 `json:"totalPoints,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	AnswersVisible bool                 `json:"answersVisible"`
	Answers        []AnswerReview       `json:"answers,omitempty"`
	Feedback       map[string]string    `json:"feedback,omitempty"`
}

const (
	deletedQuizTitle = "Deleted Quiz"
	unknownUserName  = "Unknown"
	noAnswer         = "(No answer)"
)

// BuildResultView renders a result for a viewer. Graders always see
// everything; students see the score only when both results and grades are
// released, and answers only under showAnswers.
func BuildResultView(quiz *domain.Quiz, result domain.Result, grader bool, now time.Time) ResultView {
	view := ResultView{
		ResultID:      result.ID,
		QuizID:        result.QuizID,
		QuizTitle:     deletedQuizTitle,
		Date:          result.Date,
		GradingStatus: result.GradingStatus,
	}
	if quiz == nil {
		// Without the definition no policy can be evaluated; graders still get the numbers.
		if grader {
			fillScore(&view, result)
		} else {
			view.Reason = "quiz no longer exists"
		}
		return view
	}
	view.QuizTitle = quiz.Title

	showResults := grader || CanShowResults(*quiz, result, now)
	showGrades := grader || CanShowGrades(*quiz, result, now)
	if showResults && showGrades {
		fillScore(&view, result)
	} else {
		view.Reason = hiddenReason(*quiz, result, showResults)
	}

	if grader || CanShowAnswers(*quiz, result, now) {
		view.AnswersVisible = true
		view.Answers = ReviewAnswers(*quiz, result, grader || quiz.ShowExplanations)
	}
	if showResults && len(result.Feedback) > 0 {
		view.Feedback = result.Feedback
	}
	return view
}

func fillScore(view *ResultView, result domain.Result) {
	score := result.AuthoritativeScore()
	earned, total := result.EarnedPoints, result.TotalPoints
	view.ScoreVisible = true
	view.Score = &score
	view.Grade = domain.GradeLetter(score)
	view.EarnedPoints = &earned
	view.TotalPoints = &total
}

func hiddenReason(quiz domain.Quiz, result domain.Result, resultsShown bool) string {
	if !resultsShown {
		if quiz.GradingMode == domain.GradingAutoDelayed && quiz.ResultsTime != nil {
			return "results will be available at " + quiz.ResultsTime.Format(time.RFC3339)
		}
		return "pending grading"
	}
	switch quiz.ShowGrades {
	case domain.VisibleNever:
		return "grades are not released for this quiz"
	case domain.VisibleScheduled:
		if quiz.GradesTime != nil {
			return "grades will be available at " + quiz.GradesTime.Format(time.RFC3339)
		}
		return "grades are scheduled for release"
	default:
		return "pending grading"
	}
}

// ReviewAnswers lists each question with the student's answer and the key.
func ReviewAnswers(quiz domain.Quiz, result domain.Result, explanations bool) []AnswerReview {
	out := make([]AnswerReview, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		ans, ok := result.Answers[q.ID]
		ans = result.CanonicalAnswer(q.ID, ans)
		review := AnswerReview{
			QuestionID:    q.ID,
			Text:          q.Text,
			YourAnswer:    describeAnswer(q, ans, ok),
			CorrectAnswer: describeKey(q),
			Correct:       IsCorrect(q, ans, ok),
			Feedback:      result.Feedback[q.ID],
		}
		if explanations {
			review.Explanation = q.Explanation
		}
		out = append(out, review)
	}
	return out
}

func describeAnswer(q domain.Question, ans domain.Answer, answered bool) string {
	if !answered {
		return noAnswer
	}
	if ans.Kind == domain.AnswerText {
		if ans.Text == "" {
			return noAnswer
		}
		return ans.Text
	}
	return optionLabel(q, ans.Index)
}

func describeKey(q domain.Question) string {
	if q.Type.IsText() {
		return q.CorrectAnswerText
	}
	return optionLabel(q, q.CorrectIndex)
}

func optionLabel(q domain.Question, idx int) string {
	if q.Type == domain.TrueFalse && len(q.Options) == 0 {
		switch idx {
		case 0:
			return "True"
		case 1:
			return "False"
		}
		return noAnswer
	}
	if idx < 0 || idx >= len(q.Options) {
		return noAnswer
	}
	return q.Options[idx]
}
