package domain

import "time"

// Role gates what a user may do.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User is an account. PasswordHash holds a bcrypt hash, never the plaintext.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	Email        string `json:"email,omitempty"`
}

// CanGrade reports whether the user may grade results and broadcast notifications.
func (u User) CanGrade() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

// QuestionType selects how a question is rendered and scored.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	FillInBlank    QuestionType = "fill_in_blank"
	ImageQuestion  QuestionType = "image_question"
	VideoQuestion  QuestionType = "video_question"
)

// IsText reports whether answers to this type are free text.
func (t QuestionType) IsText() bool {
	return t == ShortAnswer || t == FillInBlank
}

// ShufflesOptions reports whether randomizeOptions applies. True/false keeps its fixed labels.
func (t QuestionType) ShufflesOptions() bool {
	return t == MultipleChoice || t == ImageQuestion || t == VideoQuestion
}

// ConditionOperator compares a prior answer against Condition.Value.
type ConditionOperator string

const (
	OpEquals    ConditionOperator = "equals"
	OpNotEquals ConditionOperator = "not_equals"
	OpContains  ConditionOperator = "contains"
)

// Condition makes a question depend on the answer to an earlier question.
// DependsOn is the index of that question in the quiz definition order.
type Condition struct {
	DependsOn int               `json:"dependsOn"`
	Operator  ConditionOperator `json:"operator"`
	Value     string            `json:"value"`
}

// Question is one item of a quiz.
type Question struct {
	ID                string       `json:"id"`
	Text              string       `json:"text"`
	Type              QuestionType `json:"type"`
	Options           []string     `json:"options,omitempty"`
	CorrectIndex      int          `json:"correctIndex"`
	CorrectAnswerText string       `json:"correctAnswerText,omitempty"`
	MediaURL          string       `json:"mediaUrl,omitempty"`
	MediaType         string       `json:"mediaType,omitempty"`
	Points            int          `json:"points,omitempty"` // defaults to 1 if zero
	Explanation       string       `json:"explanation,omitempty"`
	Condition         *Condition   `json:"condition,omitempty"`
	SectionID         string       `json:"sectionId,omitempty"`
}

// Weight returns the question's points, defaulting to 1.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Section groups a contiguous run of questions. TimeLimit is advisory only.
type Section struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	TimeLimit       int    `json:"timeLimit,omitempty"` // minutes
	QuestionIndices []int  `json:"questionIndices"`
}

// QuizStatus controls whether students can see a quiz.
type QuizStatus string

const (
	StatusDraft     QuizStatus = "draft"
	StatusPublished QuizStatus = "published"
)

// GradingMode decides whether and when a result's score is final.
type GradingMode string

const (
	GradingAuto        GradingMode = "auto"
	GradingAutoDelayed GradingMode = "auto_delayed"
	GradingManual      GradingMode = "manual"
)

// Visibility decides when students may see grades or correct answers.
type Visibility string

const (
	VisibleNever        Visibility = "never"
	VisibleImmediately  Visibility = "immediately"
	VisibleAfterGrading Visibility = "after_grading"
	VisibleScheduled    Visibility = "scheduled"
)

// Quiz is the static definition of a quiz.
type Quiz struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	TimeLimit          int         `json:"timeLimit"` // minutes
	Questions          []Question  `json:"questions"`
	Sections           []Section   `json:"sections,omitempty"`
	Status             QuizStatus  `json:"status"`
	StartDate          *time.Time  `json:"startDate,omitempty"`
	EndDate            *time.Time  `json:"endDate,omitempty"`
	Password           string      `json:"password,omitempty"`
	Instructions       string      `json:"instructions,omitempty"`
	AssignedStudents   []string    `json:"assignedStudents,omitempty"`
	AssignedGroups     []string    `json:"assignedGroups,omitempty"`
	RandomizeQuestions bool        `json:"randomizeQuestions"`
	RandomizeOptions   bool        `json:"randomizeOptions"`
	AllowRetake        bool        `json:"allowRetake"`
	ShowExplanations   bool        `json:"showExplanations"`
	GradingMode        GradingMode `json:"gradingMode"`
	ResultsTime        *time.Time  `json:"resultsTime,omitempty"`
	ShowAnswers        Visibility  `json:"showAnswers"`
	AnswersTime        *time.Time  `json:"answersTime,omitempty"`
	ShowGrades         Visibility  `json:"showGrades"`
	GradesTime         *time.Time  `json:"gradesTime,omitempty"`
	PassMark           *int        `json:"passMark,omitempty"`
	Difficulty         string      `json:"difficulty,omitempty"`
	Categories         []string    `json:"categories,omitempty"`
	CreatedBy          string      `json:"createdBy,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// DefaultPassMark applies when a quiz has none.
const DefaultPassMark = 50

// EffectivePassMark returns the pass mark, defaulting to 50.
func (q Quiz) EffectivePassMark() int {
	if q.PassMark == nil {
		return DefaultPassMark
	}
	return *q.PassMark
}

// TotalPoints is the scoring denominator.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Weight()
	}
	return total
}

// GradingStatus tracks where a result is in the grading workflow.
type GradingStatus string

const (
	StatusAuto     GradingStatus = "auto"
	StatusPending  GradingStatus = "pending"
	StatusGraded   GradingStatus = "graded"
	StatusReviewed GradingStatus = "reviewed"
)

// IsFinal reports whether a grader has signed off.
func (s GradingStatus) IsFinal() bool {
	return s == StatusGraded || s == StatusReviewed
}

// Result is the persisted outcome of a submitted attempt. Only the grading
// fields change after submission.
type Result struct {
	ID             string            `json:"id"`
	QuizID         string            `json:"quizId"`
	StudentID      string            `json:"studentId"`
	Date           time.Time         `json:"date"`
	Score          int               `json:"score"`
	Answers        map[string]Answer `json:"answers"`
	TotalQuestions int               `json:"totalQuestions"`
	CorrectCount   int               `json:"correctCount"`
	EarnedPoints   int               `json:"earnedPoints"`
	TotalPoints    int               `json:"totalPoints"`
	GradingStatus  GradingStatus     `json:"gradingStatus"`
	ManualScore    *int              `json:"manualScore"`
	Feedback       map[string]string `json:"feedback"`
	GradedBy       string            `json:"gradedBy,omitempty"`
	GradedAt       *time.Time        `json:"gradedAt,omitempty"`
	TabSwitches    int               `json:"tabSwitches,omitempty"`
	// OptionOrder records shuffled option layouts: position i showed original option OptionOrder[id][i].
	OptionOrder map[string][]int `json:"optionOrder,omitempty"`
}

// CanonicalAnswer maps a choice answer given against a shuffled layout back
// to the quiz's definition order.
func (r Result) CanonicalAnswer(questionID string, ans Answer) Answer {
	perm, ok := r.OptionOrder[questionID]
	if !ok || ans.Kind != AnswerChoice || ans.Index < 0 || ans.Index >= len(perm) {
		return ans
	}
	return Choice(perm[ans.Index])
}

// ApplyGrading copies the fields a grader may change from src. Everything
// else about a submitted result is immutable.
func (r *Result) ApplyGrading(src Result) {
	r.ManualScore = src.ManualScore
	r.Feedback = src.Feedback
	r.GradingStatus = src.GradingStatus
	r.GradedBy = src.GradedBy
	r.GradedAt = src.GradedAt
	r.EarnedPoints = src.EarnedPoints
}

// AuthoritativeScore prefers the manual score when one is set.
func (r Result) AuthoritativeScore() int {
	if r.ManualScore != nil {
		return *r.ManualScore
	}
	return r.Score
}

// Group is a named set of users quizzes can be assigned to.
type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// NotificationAction points the recipient at something to open.
type NotificationAction struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Notification is an entry in the notification center. An empty UserID
// addresses everyone.
type Notification struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`     // info, success, warning, error
	Category  string              `json:"category"` // system, quiz, grading, user
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	Read      bool                `json:"read"`
	Timestamp time.Time           `json:"timestamp"`
	Action    *NotificationAction `json:"action,omitempty"`
	UserID    string              `json:"userId,omitempty"`
	SentBy    string              `json:"sentBy,omitempty"`
}

// CheckpointAttempt is the in-flight attempt state saved with a checkpoint.
// Order and OptionOrder record the randomization so a resumed attempt sees
// the same layout it was answered against.
type CheckpointAttempt struct {
	Answers     map[string]Answer `json:"answers"`
	Flagged     []string          `json:"flagged"`
	Order       []int             `json:"order,omitempty"`
	OptionOrder map[string][]int  `json:"optionOrder,omitempty"`
}

// Checkpoint is the resumable progress of one user on one quiz.
type Checkpoint struct {
	Attempt       CheckpointAttempt `json:"attempt"`
	QuestionIndex int               `json:"questionIndex"`
	TimeLeft      int               `json:"timeLeft"`  // seconds
	Timestamp     int64             `json:"timestamp"` // unix millis
}

// Template is a reusable quiz skeleton.
type Template struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Category           string     `json:"category,omitempty"`
	TimeLimit          int        `json:"timeLimit"`
	Questions          []Question `json:"questions"`
	RandomizeQuestions bool       `json:"randomizeQuestions"`
	RandomizeOptions   bool       `json:"randomizeOptions"`
	AllowRetake        bool       `json:"allowRetake"`
	CreatedBy          string     `json:"createdBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// BankQuestion is a reusable question kept outside any quiz.
type BankQuestion struct {
	Question
	Topic      string    `json:"topic,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Snapshot is a full copy of the stored data, used for backup and restore.
type Snapshot struct {
	Users         []User         `json:"users"`
	Quizzes       []Quiz         `json:"quizzes"`
	Results       []Result       `json:"results"`
	Groups        []Group        `json:"groups"`
	Notifications []Notification `json:"notifications"`
	Templates     []Template     `json:"templates"`
	QuestionBank  []BankQuestion `json:"questionBank"`
}
