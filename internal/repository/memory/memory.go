// Package memory provides in-process repositories for tests and local runs
// without Postgres.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

// Store holds users and registration sagas behind one mutex so saga
// resolution is atomic, like its Postgres counterpart.
type Store struct {
	mu    sync.Mutex
	users map[string]domain.User
	sagas map[string]domain.RegistrationSaga
	err   error
	now   func() time.Time
}

var (
	_ repository.UserRepository = (*Store)(nil)
	_ repository.SagaRepository = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users: map[string]domain.User{},
		sagas: map[string]domain.RegistrationSaga{},
		now:   time.Now,
	}
}

// FailWith makes every call return err until reset with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Store) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.User{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.User{}, s.err
	}
	needle := strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == needle {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (s *Store) Create(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.User{}, s.err
	}
	return s.insert(user)
}

func (s *Store) insert(user domain.User) (domain.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range s.users {
		if u.Email == user.Email {
			return domain.User{}, domain.ErrEmailTaken
		}
	}
	if _, ok := s.users[user.ID]; ok {
		return domain.User{}, domain.ErrEmailTaken
	}
	now := s.now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) MarkVerified(_ context.Context, id string) error {
	return s.update(id, func(u *domain.User) error {
		u.IsVerified = true
		return nil
	})
}

func (s *Store) UpdatePassword(_ context.Context, id, passwordHash string) (int, error) {
	var version int
	err := s.update(id, func(u *domain.User) error {
		u.PasswordHash = passwordHash
		u.TokenVersion++
		version = u.TokenVersion
		return nil
	})
	return version, err
}

func (s *Store) IncrementTokenVersion(_ context.Context, id string) (int, error) {
	var version int
	err := s.update(id, func(u *domain.User) error {
		u.TokenVersion++
		version = u.TokenVersion
		return nil
	})
	return version, err
}

func (s *Store) SetTwoFactorSecret(_ context.Context, id string, secret *string) error {
	return s.update(id, func(u *domain.User) error {
		if secret == nil {
			u.TwoFactorSecret = nil
			return nil
		}
		v := *secret
		u.TwoFactorSecret = &v
		return nil
	})
}

func (s *Store) EnableTwoFactor(_ context.Context, id string) error {
	return s.update(id, func(u *domain.User) error {
		if u.TwoFactorSecret == nil {
			return domain.ErrEnrollmentNotStarted
		}
		u.TwoFactorEnabled = true
		return nil
	})
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.users[id]
	delete(s.users, id)
	return ok, nil
}

func (s *Store) update(id string, fn func(*domain.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) StartRegistration(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.User{}, s.err
	}
	created, err := s.insert(user)
	if err != nil {
		return domain.User{}, err
	}
	now := s.now().UTC()
	s.sagas[created.ID] = domain.RegistrationSaga{UserID: created.ID, Status: domain.SagaPending, CreatedAt: now, UpdatedAt: now}
	return created, nil
}

func (s *Store) Commit(_ context.Context, userID string) (bool, error) {
	return s.resolve(userID, domain.SagaCompleted, "", func() {
		if u, ok := s.users[userID]; ok && u.Status == domain.StatusPending {
			u.Status = domain.StatusActive
			s.users[userID] = u
		}
	})
}

func (s *Store) Compensate(_ context.Context, userID, reason string) (bool, error) {
	return s.resolve(userID, domain.SagaCompensated, reason, func() {
		if u, ok := s.users[userID]; ok && u.Status == domain.StatusPending {
			delete(s.users, userID)
		}
	})
}

func (s *Store) resolve(userID string, status domain.SagaStatus, reason string, apply func()) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	saga, ok := s.sagas[userID]
	if !ok || saga.Status != domain.SagaPending {
		return false, nil
	}
	saga.Status = status
	saga.Reason = reason
	saga.UpdatedAt = s.now().UTC()
	s.sagas[userID] = saga
	apply()
	return true, nil
}

func (s *Store) Get(_ context.Context, userID string) (domain.RegistrationSaga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.RegistrationSaga{}, s.err
	}
	saga, ok := s.sagas[userID]
	if !ok {
		return domain.RegistrationSaga{}, domain.ErrSagaNotFound
	}
	return saga, nil
}
