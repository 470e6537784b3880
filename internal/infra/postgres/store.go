package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizmaster-service/internal/domain"
)

// Store keeps each entity as a JSONB document in its own table. A few
// columns are lifted out of the document for lookups and ordering.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func getDoc(ctx context.Context, q querier, query string, notFound error, dst interface{}, args ...interface{}) error {
	var raw []byte
	err := q.QueryRow(ctx, query, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func listDocs[T any](ctx context.Context, q querier, query string, args ...interface{}) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, notFound error, query string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if notFound != nil && tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Quizzes

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := getDoc(ctx, s.pool, `SELECT data FROM quizzes WHERE id=$1`, domain.ErrQuizNotFound, &quiz, quizID)
	return quiz, err
}

func (s *Store) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return listDocs[domain.Quiz](ctx, s.pool, `SELECT data FROM quizzes ORDER BY created_at`)
}

func (s *Store) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := encode(quiz)
	if err != nil {
		return err
	}
	return s.exec(ctx, nil, `
		INSERT INTO quizzes (id, data, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		quiz.ID, data, string(quiz.Status), orNow(quiz.CreatedAt), orNow(quiz.UpdatedAt))
}

func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	return s.exec(ctx, domain.ErrQuizNotFound, `DELETE FROM quizzes WHERE id=$1`, quizID)
}

// Results

func (s *Store) ListResults(ctx context.Context) ([]domain.Result, error) {
	return listDocs[domain.Result](ctx, s.pool, `SELECT data FROM results ORDER BY submitted_at`)
}

func (s *Store) GetResult(ctx context.Context, resultID string) (domain.Result, error) {
	var result domain.Result
	err := getDoc(ctx, s.pool, `SELECT data FROM results WHERE id=$1`, domain.ErrResultNotFound, &result, resultID)
	return result, err
}

func (s *Store) SaveResult(ctx context.Context, result domain.Result) error {
	data, err := encode(result)
	if err != nil {
		return err
	}
	return s.exec(ctx, nil, `
		INSERT INTO results (id, quiz_id, student_id, grading_status, submitted_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID, result.QuizID, result.StudentID, string(result.GradingStatus), orNow(result.Date), data)
}

// UpdateResult overwrites only the grading fields, under a row lock.
func (s *Store) UpdateResult(ctx context.Context, result domain.Result) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var stored domain.Result
		err := getDoc(ctx, tx, `SELECT data FROM results WHERE id=$1 FOR UPDATE`, domain.ErrResultNotFound, &stored, result.ID)
		if err != nil {
			return err
		}
		stored.ApplyGrading(result)
		data, err := encode(stored)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE results SET data=$2, grading_status=$3 WHERE id=$1`,
			stored.ID, data, string(stored.GradingStatus))
		return err
	})
}

// Users

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	return listDocs[domain.User](ctx, s.pool, `SELECT data FROM users ORDER BY username`)
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := getDoc(ctx, s.pool, `SELECT data FROM users WHERE id=$1`, domain.ErrUserNotFound, &user, userID)
	return user, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := getDoc(ctx, s.pool, `SELECT data FROM users WHERE username=$1`, domain.ErrUserNotFound, &user, username)
	return user, err
}

func (s *Store) SaveUser(ctx context.Context, user domain.User) error {
	data, err := encode(user)
	if err != nil {
		return err
	}
	return s.exec(ctx, nil, `
		INSERT INTO users (id, username, role, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username, role=EXCLUDED.role, data=EXCLUDED.data`,
		user.ID, user.Username, string(user.Role), data)
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.exec(ctx, domain.ErrUserNotFound, `DELETE FROM users WHERE id=$1`, userID)
}

// Groups

func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return listDocs[domain.Group](ctx, s.pool, `SELECT data FROM groups ORDER BY name`)
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (domain.Group, error) {
	var group domain.Group
	err := getDoc(ctx, s.pool, `SELECT data FROM groups WHERE id=$1`, domain.ErrGroupNotFound, &group, groupID)
	return group, err
}

func (s *Store) SaveGroup(ctx context.Context, group domain.Group) error {
	data, err := encode(group)
	if err != nil {
		return err
	}
	return s.exec(ctx, nil, `
		INSERT INTO groups (id, name, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, data=EXCLUDED.data`,
		group.ID, group.Name, data)
}

func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	return s.exec(ctx, domain.ErrGroupNotFound, `DELETE FROM groups WHERE id=$1`, groupID)
}

// Notifications

// AddNotification inserts n and trims the table to the newest limit rows.
func (s *Store) AddNotification(ctx context.Context, n domain.Notification, limit int) error {
	data, err := encode(n)
	if err != nil {
		return err
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO notifications (id, user_id, created_at, data) VALUES ($1, $2, $3, $4)`,
			n.ID, n.UserID, orNow(n.Timestamp), data); err != nil {
			return err
		}
		if limit <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM notifications WHERE id NOT IN (
				SELECT id FROM notifications ORDER BY created_at DESC, seq DESC LIMIT $1
			)`, limit)
		return err
	})
}

func (s *Store) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	return listDocs[domain.Notification](ctx, s.pool, `SELECT data FROM notifications ORDER BY created_at DESC, seq DESC`)
}

func (s *Store) MarkRead(ctx context.Context, notificationID string) error {
	return s.exec(ctx, domain.ErrNotificationNotFound,
		`UPDATE notifications SET data = jsonb_set(data, '{read}', 'true'::jsonb) WHERE id=$1`, notificationID)
}

// Templates

func (s *Store) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return listDocs[domain.Template](ctx, s.pool, `SELECT data FROM templates ORDER BY created_at`)
}

func (s *Store) GetTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	var t domain.Template
	err := getDoc(ctx, s.pool, `SELECT data FROM templates WHERE id=$1`, domain.ErrTemplateNotFound, &t, templateID)
	return t, err
}

func (s *Store) SaveTemplate(ctx context.Context, t domain.Template) error {
	data, err := encode(t)
	if err != nil {
		return err
	}
	return s.exec(ctx, nil, `
		INSERT INTO templates (id, created_at, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
		t.ID, orNow(t.CreatedAt), data)
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID string) error {
	return s.exec(ctx, domain.ErrTemplateNotFound, `DELETE FROM templates WHERE id=$1`, templateID)
}

// Question bank

func (s *Store) ListBankQuestions(ctx context.Context) ([]domain.BankQuestion, error) {
	return listDocs[domain.BankQuestion](ctx, s.pool, `SELECT data FROM question_bank ORDER BY created_at`)
}

func (s *Store) GetBankQuestion(ctx context.Context, questionID string) (domain.BankQuestion, error) {
	var q domain.BankQuestion
	err := getDoc(ctx, s.pool, `SELECT data FROM question_bank WHERE id=$1`, domain.ErrBankQuestionNotFound, &q, questionID)
	return q, err
}

// SaveBankQuestions upserts the questions in one transaction.
func (s *Store) SaveBankQuestions(ctx context.Context, questions ...domain.BankQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, q := range questions {
			data, err := encode(q)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO question_bank (id, topic, created_at, data) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET topic=EXCLUDED.topic, data=EXCLUDED.data`,
				q.ID, q.Topic, orNow(q.CreatedAt), data)
		}
		return sendBatch(ctx, tx, batch)
	})
}

func (s *Store) DeleteBankQuestion(ctx context.Context, questionID string) error {
	return s.exec(ctx, domain.ErrBankQuestionNotFound, `DELETE FROM question_bank WHERE id=$1`, questionID)
}

// Snapshot reads every table inside one repeatable-read transaction.
func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if snap.Users, err = listDocs[domain.User](ctx, tx, `SELECT data FROM users ORDER BY username`); err != nil {
			return err
		}
		if snap.Quizzes, err = listDocs[domain.Quiz](ctx, tx, `SELECT data FROM quizzes ORDER BY created_at`); err != nil {
			return err
		}
		if snap.Results, err = listDocs[domain.Result](ctx, tx, `SELECT data FROM results ORDER BY submitted_at`); err != nil {
			return err
		}
		if snap.Groups, err = listDocs[domain.Group](ctx, tx, `SELECT data FROM groups ORDER BY name`); err != nil {
			return err
		}
		if snap.Notifications, err = listDocs[domain.Notification](ctx, tx, `SELECT data FROM notifications ORDER BY created_at DESC, seq DESC`); err != nil {
			return err
		}
		if snap.Templates, err = listDocs[domain.Template](ctx, tx, `SELECT data FROM templates ORDER BY created_at`); err != nil {
			return err
		}
		snap.QuestionBank, err = listDocs[domain.BankQuestion](ctx, tx, `SELECT data FROM question_bank ORDER BY created_at`)
		return err
	})
	return snap, err
}

// Restore truncates every table and loads snap in a single transaction.
func (s *Store) Restore(ctx context.Context, snap domain.Snapshot) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE users, quizzes, results, groups, notifications, templates, question_bank`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, u := range snap.Users {
			data, err := encode(u)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO users (id, username, role, data) VALUES ($1, $2, $3, $4)`,
				u.ID, u.Username, string(u.Role), data)
		}
		for _, q := range snap.Quizzes {
			data, err := encode(q)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO quizzes (id, data, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
				q.ID, data, string(q.Status), orNow(q.CreatedAt), orNow(q.UpdatedAt))
		}
		for _, r := range snap.Results {
			data, err := encode(r)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO results (id, quiz_id, student_id, grading_status, submitted_at, data) VALUES ($1, $2, $3, $4, $5, $6)`,
				r.ID, r.QuizID, r.StudentID, string(r.GradingStatus), orNow(r.Date), data)
		}
		for _, g := range snap.Groups {
			data, err := encode(g)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO groups (id, name, data) VALUES ($1, $2, $3)`, g.ID, g.Name, data)
		}
		// Insert oldest first so seq keeps the newest-first listing intact.
		for i := len(snap.Notifications) - 1; i >= 0; i-- {
			n := snap.Notifications[i]
			data, err := encode(n)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO notifications (id, user_id, created_at, data) VALUES ($1, $2, $3, $4)`,
				n.ID, n.UserID, orNow(n.Timestamp), data)
		}
		for _, t := range snap.Templates {
			data, err := encode(t)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO templates (id, created_at, data) VALUES ($1, $2, $3)`, t.ID, orNow(t.CreatedAt), data)
		}
		for _, q := range snap.QuestionBank {
			data, err := encode(q)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO question_bank (id, topic, created_at, data) VALUES ($1, $2, $3, $4)`,
				q.ID, q.Topic, orNow(q.CreatedAt), data)
		}
		return sendBatch(ctx, tx, batch)
	})
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch row %d: %w", i, err)
		}
	}
	return br.Close()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
