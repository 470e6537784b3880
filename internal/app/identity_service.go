package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"quizmaster-service/internal/domain"
)

// DefaultPassword is what the seeded accounts start with.
const DefaultPassword = "password"

// NewUser is the input for creating an account.
type NewUser struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Name     string      `json:"name"`
	Role     domain.Role `json:"role"`
	Email    string      `json:"email,omitempty"`
}

// Validate checks the fields of a new account.
func (u NewUser) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Username, validation.Required, validation.RuneLength(1, 64)),
		validation.Field(&u.Password, validation.Required),
		validation.Field(&u.Name, validation.Required, validation.RuneLength(1, 100)),
		validation.Field(&u.Role, validation.Required, validation.In(domain.RoleAdmin, domain.RoleTeacher, domain.RoleStudent)),
		validation.Field(&u.Email, is.EmailFormat),
	)
}

// UserUpdate carries the editable fields of an account; nil fields stay unchanged.
type UserUpdate struct {
	Name     *string      `json:"name,omitempty"`
	Role     *domain.Role `json:"role,omitempty"`
	Email    *string      `json:"email,omitempty"`
	Password *string      `json:"password,omitempty"`
}

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Created int      `json:"created"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// IdentityService authenticates users and manages accounts.
type IdentityService struct {
	users  UserRepository
	logger *zap.Logger
	cost   int
}

// IdentityOption customizes an IdentityService.
type IdentityOption func(*IdentityService)

// WithHashCost sets the bcrypt cost; tests use bcrypt.MinCost.
func WithHashCost(cost int) IdentityOption {
	return func(s *IdentityService) { s.cost = cost }
}

func NewIdentityService(users UserRepository, logger *zap.Logger, opts ...IdentityOption) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IdentityService{users: users, logger: logger, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate checks a username and password.
func (s *IdentityService) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

// User loads one account.
func (s *IdentityService) User(ctx context.Context, userID string) (domain.User, error) {
	return s.users.GetUser(ctx, userID)
}

// ListUsers returns every account. Graders need it to name students.
func (s *IdentityService) ListUsers(ctx context.Context, actor domain.User) ([]domain.User, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	return s.users.ListUsers(ctx)
}

// CreateUser adds an account. Admin only.
func (s *IdentityService) CreateUser(ctx context.Context, actor domain.User, in NewUser) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, domain.ErrForbidden
	}
	return s.create(ctx, in)
}

func (s *IdentityService) create(ctx context.Context, in NewUser) (domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrInvalidUser, err)
	}
	if _, err := s.users.GetUserByUsername(ctx, in.Username); err == nil {
		return domain.User{}, domain.ErrUsernameTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         in.Role,
		Email:        strings.TrimSpace(in.Email),
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	s.logger.Info("user created", zap.String("user", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// UpdateUser edits an account. Admin only.
func (s *IdentityService) UpdateUser(ctx context.Context, actor domain.User, userID string, upd UserUpdate) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, domain.ErrForbidden
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if upd.Name != nil {
		user.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.Email != nil {
		user.Email = strings.TrimSpace(*upd.Email)
	}
	err = validation.ValidateStruct(&user,
		validation.Field(&user.Name, validation.Required),
		validation.Field(&user.Role, validation.Required, validation.In(domain.RoleAdmin, domain.RoleTeacher, domain.RoleStudent)),
		validation.Field(&user.Email, is.EmailFormat),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrInvalidUser, err)
	}
	if upd.Password != nil {
		if *upd.Password == "" {
			return domain.User{}, fmt.Errorf("%w: password: cannot be blank", domain.ErrInvalidUser)
		}
		if user.PasswordHash, err = s.hash(*upd.Password); err != nil {
			return domain.User{}, err
		}
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// DeleteUser removes an account. References elsewhere are left dangling.
func (s *IdentityService) DeleteUser(ctx context.Context, actor domain.User, userID string) error {
	if actor.Role != domain.RoleAdmin {
		return domain.ErrForbidden
	}
	if actor.ID == userID {
		return fmt.Errorf("%w: cannot delete your own account", domain.ErrForbidden)
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.String("user", userID), zap.String("actor", actor.ID))
	return nil
}

// ImportUsers creates each account in turn. Rows that fail are reported and
// skipped; the rest are kept.
func (s *IdentityService) ImportUsers(ctx context.Context, actor domain.User, rows []NewUser) (ImportReport, error) {
	if actor.Role != domain.RoleAdmin {
		return ImportReport{}, domain.ErrForbidden
	}
	var report ImportReport
	var errs error
	for i, row := range rows {
		if _, err := s.create(ctx, row); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("row %d (%s): %w", i+1, row.Username, err))
			continue
		}
		report.Created++
	}
	for _, err := range multierr.Errors(errs) {
		report.Errors = append(report.Errors, err.Error())
	}
	s.logger.Info("users imported", zap.Int("created", report.Created), zap.Int("failed", report.Failed))
	return report, errs
}

// ParseUsersCSV reads username,password,name,role[,email] rows. A header row
// is skipped. Malformed rows are reported while the good ones are returned.
func ParseUsersCSV(r io.Reader) ([]NewUser, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		rows []NewUser
		errs error
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "username") {
			continue
		}
		if len(record) < 4 {
			errs = multierr.Append(errs, fmt.Errorf("line %d: expected at least 4 fields, got %d", line, len(record)))
			continue
		}
		row := NewUser{
			Username: strings.TrimSpace(record[0]),
			Password: record[1],
			Name:     strings.TrimSpace(record[2]),
			Role:     domain.Role(strings.ToLower(strings.TrimSpace(record[3]))),
		}
		if len(record) > 4 {
			row.Email = strings.TrimSpace(record[4])
		}
		rows = append(rows, row)
	}
	return rows, errs
}

// EnsureDefaults seeds the admin, teacher and student accounts into an empty
// user store, and restores an admin if none is left.
func (s *IdentityService) EnsureDefaults(ctx context.Context) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	defaults := []domain.User{
		{ID: "u0", Username: "admin", Name: "Administrator", Role: domain.RoleAdmin},
		{ID: "u1", Username: "teacher", Name: "Teacher", Role: domain.RoleTeacher},
		{ID: "u2", Username: "student", Name: "Student", Role: domain.RoleStudent},
	}
	if len(users) > 0 {
		for _, u := range users {
			if u.Role == domain.RoleAdmin {
				return nil
			}
		}
		defaults = defaults[:1]
	}
	hash, err := s.hash(DefaultPassword)
	if err != nil {
		return err
	}
	for _, u := range defaults {
		if _, err := s.users.GetUserByUsername(ctx, u.Username); err == nil {
			continue
		}
		u.PasswordHash = hash
		if err := s.users.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("seed %s: %w", u.Username, err)
		}
		s.logger.Info("default user seeded", zap.String("username", u.Username))
	}
	return nil
}

func (s *IdentityService) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
