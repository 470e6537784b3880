package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"quizmaster-service/internal/domain"
)

// Store keeps every entity in a single document. Reads copy out of it and
// every mutation rewrites it wholesale; with a path configured the document
// is also written to disk after each change, last write wins.
type Store struct {
	path string

	mu  sync.RWMutex
	doc domain.Snapshot
}

// NewStore returns an empty store that lives only in memory.
func NewStore() *Store {
	return &Store{}
}

// OpenStore loads the document at path, starting empty when the file does not exist.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	return s, nil
}

// mutate applies fn to a private copy of the document and commits it only if
// fn and the flush both succeed. The committed document is copied again so
// entities handed in by the caller share no slices or maps with it.
func (s *Store) mutate(fn func(doc *domain.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneSnapshot(s.doc)
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.doc = cloneSnapshot(next)
	return nil
}

func (s *Store) flush(doc domain.Snapshot) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) read() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.doc)
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot(context.Context) (domain.Snapshot, error) {
	return s.read(), nil
}

// Restore replaces the whole document.
func (s *Store) Restore(_ context.Context, snap domain.Snapshot) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		*doc = cloneSnapshot(snap)
		return nil
	})
}

// Quizzes

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	for _, q := range s.read().Quizzes {
		if q.ID == quizID {
			return q, nil
		}
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (s *Store) ListQuizzes(context.Context) ([]domain.Quiz, error) {
	return s.read().Quizzes, nil
}

func (s *Store) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Quizzes {
			if doc.Quizzes[i].ID == quiz.ID {
				doc.Quizzes[i] = quiz
				return nil
			}
		}
		doc.Quizzes = append(doc.Quizzes, quiz)
		return nil
	})
}

func (s *Store) DeleteQuiz(_ context.Context, quizID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Quizzes {
			if doc.Quizzes[i].ID == quizID {
				doc.Quizzes = append(doc.Quizzes[:i], doc.Quizzes[i+1:]...)
				return nil
			}
		}
		return domain.ErrQuizNotFound
	})
}

// Results

func (s *Store) ListResults(context.Context) ([]domain.Result, error) {
	return s.read().Results, nil
}

func (s *Store) GetResult(_ context.Context, resultID string) (domain.Result, error) {
	for _, r := range s.read().Results {
		if r.ID == resultID {
			return r, nil
		}
	}
	return domain.Result{}, domain.ErrResultNotFound
}

func (s *Store) SaveResult(_ context.Context, result domain.Result) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		doc.Results = append(doc.Results, result)
		return nil
	})
}

// UpdateResult overwrites only the grading fields of a stored result.
func (s *Store) UpdateResult(_ context.Context, result domain.Result) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Results {
			if doc.Results[i].ID != result.ID {
				continue
			}
			doc.Results[i].ApplyGrading(result)
			return nil
		}
		return domain.ErrResultNotFound
	})
}

// Users

func (s *Store) ListUsers(context.Context) ([]domain.User, error) {
	return s.read().Users, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	for _, u := range s.read().Users {
		if u.ID == userID {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	for _, u := range s.read().Users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (s *Store) SaveUser(_ context.Context, user domain.User) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Users {
			if doc.Users[i].ID == user.ID {
				doc.Users[i] = user
				return nil
			}
		}
		doc.Users = append(doc.Users, user)
		return nil
	})
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Users {
			if doc.Users[i].ID == userID {
				doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
				return nil
			}
		}
		return domain.ErrUserNotFound
	})
}

// Groups

func (s *Store) ListGroups(context.Context) ([]domain.Group, error) {
	return s.read().Groups, nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (domain.Group, error) {
	for _, g := range s.read().Groups {
		if g.ID == groupID {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrGroupNotFound
}

func (s *Store) SaveGroup(_ context.Context, group domain.Group) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Groups {
			if doc.Groups[i].ID == group.ID {
				doc.Groups[i] = group
				return nil
			}
		}
		doc.Groups = append(doc.Groups, group)
		return nil
	})
}

func (s *Store) DeleteGroup(_ context.Context, groupID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Groups {
			if doc.Groups[i].ID == groupID {
				doc.Groups = append(doc.Groups[:i], doc.Groups[i+1:]...)
				return nil
			}
		}
		return domain.ErrGroupNotFound
	})
}

// Notifications are kept newest first.

func (s *Store) AddNotification(_ context.Context, n domain.Notification, limit int) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		doc.Notifications = append([]domain.Notification{n}, doc.Notifications...)
		if limit > 0 && len(doc.Notifications) > limit {
			doc.Notifications = doc.Notifications[:limit]
		}
		return nil
	})
}

func (s *Store) ListNotifications(context.Context) ([]domain.Notification, error) {
	return s.read().Notifications, nil
}

func (s *Store) MarkRead(_ context.Context, notificationID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Notifications {
			if doc.Notifications[i].ID == notificationID {
				doc.Notifications[i].Read = true
				return nil
			}
		}
		return domain.ErrNotificationNotFound
	})
}

// Templates

func (s *Store) ListTemplates(context.Context) ([]domain.Template, error) {
	return s.read().Templates, nil
}

func (s *Store) GetTemplate(_ context.Context, templateID string) (domain.Template, error) {
	for _, t := range s.read().Templates {
		if t.ID == templateID {
			return t, nil
		}
	}
	return domain.Template{}, domain.ErrTemplateNotFound
}

func (s *Store) SaveTemplate(_ context.Context, t domain.Template) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Templates {
			if doc.Templates[i].ID == t.ID {
				doc.Templates[i] = t
				return nil
			}
		}
		doc.Templates = append(doc.Templates, t)
		return nil
	})
}

func (s *Store) DeleteTemplate(_ context.Context, templateID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.Templates {
			if doc.Templates[i].ID == templateID {
				doc.Templates = append(doc.Templates[:i], doc.Templates[i+1:]...)
				return nil
			}
		}
		return domain.ErrTemplateNotFound
	})
}

// Question bank

func (s *Store) ListBankQuestions(context.Context) ([]domain.BankQuestion, error) {
	return s.read().QuestionBank, nil
}

func (s *Store) GetBankQuestion(_ context.Context, questionID string) (domain.BankQuestion, error) {
	for _, q := range s.read().QuestionBank {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.BankQuestion{}, domain.ErrBankQuestionNotFound
}

func (s *Store) SaveBankQuestions(_ context.Context, questions ...domain.BankQuestion) error {
	return s.mutate(func(doc *domain.Snapshot) error {
	next:
		for _, q := range questions {
			for i := range doc.QuestionBank {
				if doc.QuestionBank[i].ID == q.ID {
					doc.QuestionBank[i] = q
					continue next
				}
			}
			doc.QuestionBank = append(doc.QuestionBank, q)
		}
		return nil
	})
}

func (s *Store) DeleteBankQuestion(_ context.Context, questionID string) error {
	return s.mutate(func(doc *domain.Snapshot) error {
		for i := range doc.QuestionBank {
			if doc.QuestionBank[i].ID == questionID {
				doc.QuestionBank = append(doc.QuestionBank[:i], doc.QuestionBank[i+1:]...)
				return nil
			}
		}
		return domain.ErrBankQuestionNotFound
	})
}

// cloneSnapshot deep-copies through JSON so callers never share nested
// slices or maps with the stored document.
func cloneSnapshot(in domain.Snapshot) domain.Snapshot {
	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory: snapshot not encodable: %v", err))
	}
	var out domain.Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory: snapshot not decodable: %v", err))
	}
	return out
}
