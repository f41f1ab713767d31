// Package authn provides email/password identity verification.
package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"kanban-api/domain"
)

const minPasswordLen = 8

// ErrInvalidCredentials covers both unknown email and wrong password, so a
// failed login never reveals whether the account exists.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidInput indicates a malformed registration request.
var ErrInvalidInput = errors.New("invalid input")

// UserStore is the slice of storage the authenticator needs.
type UserStore interface {
	InsertUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
}

// Credentials carries a login attempt.
type Credentials struct {
	Email    string
	Password string
}

// Service checks credentials against bcrypt hashes kept in the user store.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Register creates a new account. The email must be unused; the storage
// layer enforces uniqueness and reports domain.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return domain.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if displayName == "" {
		displayName = email[:strings.IndexByte(email, '@')]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Verify resolves credentials to a user. All failure modes other than
// storage faults collapse into ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, creds Credentials) (domain.User, error) {
	user, err := s.store.GetUserByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a hash comparison anyway so unknown emails are not
			// distinguishable by response time.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup fetches a user by id, for session resolution.
func (s *Service) Lookup(ctx context.Context, id string) (domain.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// dummyHash is a bcrypt hash of an unguessable throwaway value.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
