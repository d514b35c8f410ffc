package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/panel-scheduler/internal/application"
)

var (
	// ErrInvalidCredentials is returned for unknown users and wrong
	// passwords alike; callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrAccountDisabled is returned for a disabled account, and only after
	// the password verified.
	ErrAccountDisabled = errors.New("identity: account disabled")
)

// User is a panel account able to own schedules.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Admin        bool
	Disabled     bool
}

// Directory looks up panel accounts.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (User, error)
}

// Verifier compares a stored hash with a candidate password.
type Verifier func(storedHash, password string) error

// Service authenticates panel users and resolves the principal that the
// schedule services authorize against.
type Service struct {
	directory Directory
	verify    Verifier
	logger    *slog.Logger
}

// NewService wires an identity service. A nil verifier falls back to the
// argon2id implementation.
func NewService(directory Directory, verify Verifier, logger *slog.Logger) *Service {
	if verify == nil {
		verify = VerifyPassword
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{directory: directory, verify: verify, logger: logger.With("component", "identity")}
}

// Authenticate validates a username and password and returns the principal
// for the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (application.Principal, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return application.Principal{}, ErrInvalidCredentials
	}

	user, err := s.directory.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return application.Principal{}, ErrInvalidCredentials
		}
		return application.Principal{}, err
	}

	if err := s.verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return application.Principal{}, ErrInvalidCredentials
		}
		return application.Principal{}, err
	}

	// The disabled state is revealed only to a caller holding the password,
	// so a failed login never confirms that an account exists.
	if user.Disabled {
		s.logger.WarnContext(ctx, "login on disabled account", "username", username)
		return application.Principal{}, ErrAccountDisabled
	}

	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "admin", user.Admin)
	return application.Principal{UserID: user.ID, IsAdmin: user.Admin}, nil
}

// MemoryDirectory is an in-memory Directory for tests and single-box
// deployments configured from a file.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory indexes the given users by lowercased username.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, user := range users {
		d.users[strings.ToLower(user.Username)] = user
	}
	return d
}

// Add inserts or replaces a user.
func (d *MemoryDirectory) Add(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[strings.ToLower(user.Username)] = user
}

// FindByUsername implements Directory. Unknown usernames read as invalid
// credentials so login cannot probe for accounts.
func (d *MemoryDirectory) FindByUsername(ctx context.Context, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[strings.ToLower(username)]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
