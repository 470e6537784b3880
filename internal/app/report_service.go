package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// ResultsCSVHeader is the first row of the results export.
var ResultsCSVHeader = []string{"Student Name", "Quiz Title", "Score (%)", "Date", "Status", "Manual Score", "Feedback"}

// Scorecard is the printable breakdown of one result.
type Scorecard struct {
	ResultID       string         `json:"resultId"`
	StudentName    string         `json:"studentName"`
	QuizTitle      string         `json:"quizTitle"`
	Date           time.Time      `json:"date"`
	Score          int            `json:"score"`
	Grade          string         `json:"grade"`
	TotalQuestions int            `json:"totalQuestions"`
	CorrectCount   int            `json:"correctCount"`
	Questions      []AnswerReview `json:"questions"`
}

// QuestionStat is the success rate of a single question.
type QuestionStat struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	Attempts   int    `json:"attempts"`
	Correct    int    `json:"correct"`
	Percentage int    `json:"percentage"`
}

// QuizStats aggregates every result of a quiz.
type QuizStats struct {
	QuizID       string         `json:"quizId"`
	QuizTitle    string         `json:"quizTitle"`
	Attempts     int            `json:"attempts"`
	AverageScore int            `json:"averageScore"`
	HighestScore int            `json:"highestScore"`
	LowestScore  int            `json:"lowestScore"`
	PassMark     int            `json:"passMark"`
	PassRate     int            `json:"passRate"`
	Pending      int            `json:"pending"`
	Grades       map[string]int `json:"grades"`
	Questions    []QuestionStat `json:"questions"`
}

// ReportService produces exports, statistics and leaderboards, and pushes
// leaderboard updates to subscribers as results change.
type ReportService struct {
	quizzes QuizReader
	results ResultRepository
	users   UserRepository
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	subscribers map[string]map[chan domain.Leaderboard]struct{}
}

// ReportOption customizes a ReportService.
type ReportOption func(*ReportService)

// WithReportClock overrides the clock used for visibility checks and timestamps.
func WithReportClock(now func() time.Time) ReportOption {
	return func(s *ReportService) { s.now = now }
}

func NewReportService(quizzes QuizReader, results ResultRepository, users UserRepository, logger *zap.Logger, opts ...ReportOption) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReportService{
		quizzes:     quizzes,
		results:     results,
		users:       users,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[string]map[chan domain.Leaderboard]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportResultsCSV writes one row per result. An empty quizID exports everything.
func (s *ReportService) ExportResultsCSV(ctx context.Context, w io.Writer, quizID string) error {
	results, err := s.results.ListResults(ctx)
	if err != nil {
		return err
	}
	names, err := s.userNames(ctx)
	if err != nil {
		return err
	}
	titles := make(map[string]string)

	cw := csv.NewWriter(w)
	if err := cw.Write(ResultsCSVHeader); err != nil {
		return err
	}
	for _, r := range results {
		if quizID != "" && r.QuizID != quizID {
			continue
		}
		title, ok := titles[r.QuizID]
		if !ok {
			title, err = s.quizTitle(ctx, r.QuizID)
			if err != nil {
				return err
			}
			titles[r.QuizID] = title
		}
		name, ok := names[r.StudentID]
		if !ok {
			name = unknownUserName
		}
		manual := ""
		if r.ManualScore != nil {
			manual = strconv.Itoa(*r.ManualScore)
		}
		feedback := ""
		if len(r.Feedback) > 0 {
			feedback = fmt.Sprintf("%d feedback items", len(r.Feedback))
		}
		status := r.GradingStatus
		if status == "" {
			status = domain.StatusAuto
		}
		row := []string{
			name,
			title,
			strconv.Itoa(r.AuthoritativeScore()),
			r.Date.Format("2006-01-02"),
			string(status),
			manual,
			feedback,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Scorecard builds the per-question breakdown of a result. Students may open
// their own scorecard once answers are released.
func (s *ReportService) Scorecard(ctx context.Context, viewer domain.User, resultID string) (Scorecard, error) {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return Scorecard{}, err
	}
	if !viewer.CanGrade() && viewer.ID != result.StudentID {
		return Scorecard{}, domain.ErrForbidden
	}
	quiz, err := s.quizzes.GetQuiz(ctx, result.QuizID)
	if err != nil {
		return Scorecard{}, err
	}
	if !viewer.CanGrade() && !CanShowAnswers(quiz, result, s.now()) {
		return Scorecard{}, domain.ErrForbidden
	}
	names, err := s.userNames(ctx)
	if err != nil {
		return Scorecard{}, err
	}
	name, ok := names[result.StudentID]
	if !ok {
		name = unknownUserName
	}
	score := result.AuthoritativeScore()
	return Scorecard{
		ResultID:       result.ID,
		StudentName:    name,
		QuizTitle:      quiz.Title,
		Date:           result.Date,
		Score:          score,
		Grade:          domain.GradeLetter(score),
		TotalQuestions: result.TotalQuestions,
		CorrectCount:   result.CorrectCount,
		Questions:      ReviewAnswers(quiz, result, viewer.CanGrade() || quiz.ShowExplanations),
	}, nil
}

// QuizStats summarizes a quiz's results. Averages and pass rate use the
// authoritative score of each result.
func (s *ReportService) QuizStats(ctx context.Context, quizID string) (QuizStats, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return QuizStats{}, err
	}
	results, err := s.results.ListResults(ctx)
	if err != nil {
		return QuizStats{}, err
	}

	stats := QuizStats{
		QuizID:    quiz.ID,
		QuizTitle: quiz.Title,
		PassMark:  quiz.EffectivePassMark(),
		Grades:    map[string]int{"A": 0, "B": 0, "C": 0, "D": 0, "F": 0},
	}
	perQuestion := make([]QuestionStat, len(quiz.Questions))
	for i, q := range quiz.Questions {
		perQuestion[i] = QuestionStat{QuestionID: q.ID, Text: q.Text}
	}

	sum, passed := 0, 0
	for _, r := range results {
		if r.QuizID != quizID {
			continue
		}
		score := r.AuthoritativeScore()
		if stats.Attempts == 0 || score > stats.HighestScore {
			stats.HighestScore = score
		}
		if stats.Attempts == 0 || score < stats.LowestScore {
			stats.LowestScore = score
		}
		stats.Attempts++
		sum += score
		if score >= stats.PassMark {
			passed++
		}
		if r.GradingStatus == domain.StatusPending {
			stats.Pending++
		}
		stats.Grades[domain.GradeLetter(score)]++

		for i, q := range quiz.Questions {
			ans, ok := r.Answers[q.ID]
			perQuestion[i].Attempts++
			if IsCorrect(q, r.CanonicalAnswer(q.ID, ans), ok) {
				perQuestion[i].Correct++
			}
		}
	}
	stats.AverageScore = percentOf(sum, stats.Attempts)
	stats.PassRate = percent(passed, stats.Attempts)
	for i := range perQuestion {
		perQuestion[i].Percentage = percent(perQuestion[i].Correct, perQuestion[i].Attempts)
	}
	stats.Questions = perQuestion
	return stats, nil
}

// percentOf is a rounded mean.
func percentOf(sum, n int) int {
	if n == 0 {
		return 0
	}
	return percent(sum, n*100)
}

// Leaderboard ranks each student's best released score on a quiz. Results
// whose score the student could not yet see are left out. Ties go to the
// earlier submission, then to the name.
func (s *ReportService) Leaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	results, err := s.results.ListResults(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	names, err := s.userNames(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	now := s.now()
	best := make(map[string]domain.LeaderboardEntry)
	for _, r := range results {
		if r.QuizID != quizID {
			continue
		}
		if !CanShowResults(quiz, r, now) || !CanShowGrades(quiz, r, now) {
			continue
		}
		score := r.AuthoritativeScore()
		cur, ok := best[r.StudentID]
		if ok && (cur.Score > score || (cur.Score == score && !r.Date.Before(cur.SubmittedAt))) {
			continue
		}
		name, known := names[r.StudentID]
		if !known {
			name = unknownUserName
		}
		best[r.StudentID] = domain.LeaderboardEntry{
			UserID:      r.StudentID,
			DisplayName: name,
			Score:       score,
			Grade:       domain.GradeLetter(score),
			SubmittedAt: r.Date,
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(best))
	for _, e := range best {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return domain.Leaderboard{QuizID: quizID, Entries: entries, UpdatedAt: now}, nil
}

// Subscribe returns a channel of leaderboard updates for a quiz, primed with
// the current board. The caller must invoke cancel to release it.
func (s *ReportService) Subscribe(ctx context.Context, quizID string) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.Leaderboard(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan domain.Leaderboard, 8)
	ch <- initial

	s.mu.Lock()
	subs, ok := s.subscribers[quizID]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		s.subscribers[quizID] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[quizID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(s.subscribers, quizID)
		}
	}
	return ch, cancel, nil
}

// ResultChanged recomputes the quiz's leaderboard and pushes it to subscribers.
func (s *ReportService) ResultChanged(ctx context.Context, result domain.Result) {
	s.mu.Lock()
	watched := len(s.subscribers[result.QuizID]) > 0
	s.mu.Unlock()
	if !watched {
		return
	}
	lb, err := s.Leaderboard(ctx, result.QuizID)
	if err != nil {
		s.logger.Warn("leaderboard refresh", zap.String("quiz", result.QuizID), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers[result.QuizID] {
		select {
		case ch <- lb:
		default:
			// Slow reader: replace its oldest pending board with the fresh one.
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

func (s *ReportService) userNames(ctx context.Context) (map[string]string, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func (s *ReportService) quizTitle(ctx context.Context, quizID string) (string, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return deletedQuizTitle, nil
	}
	if err != nil {
		return "", err
	}
	return quiz.Title, nil
}
