package identity

import (
	"auction-marketplace/internal/biddingerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/utils"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer            = "auction-marketplace"
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes, so longer passwords are refused
	maxPasswordLength = 72
)

// Config controls token issuing and registration policy
type Config struct {
	Secret          string
	TokenTTL        time.Duration
	OpenAdminSignup bool
}

// RegisterRequest carries the fields of a new account
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Role     models.Role
}

// Service verifies credentials and bearer tokens
type Service struct {
	users repository.UserDB
	cfg   Config
	now   func() time.Time
}

type claims struct {
	Role  models.Role `json:"role"`
	Name  string      `json:"name,omitempty"`
	Email string      `json:"email"`
	jwt.RegisteredClaims
}

// NewService creates an identity service; the signing secret is mandatory
func NewService(users repository.UserDB, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: empty jwt secret")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{users: users, cfg: cfg, now: time.Now}, nil
}

// Register creates a new user. The role defaults to DEALER; ADMIN accounts can
// only be self-registered when open admin signup is enabled.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return models.User{}, err
	}
	if n := len(req.Password); n < minPasswordLength || n > maxPasswordLength {
		return models.User{}, fmt.Errorf("identity: %w - password must be %d to %d characters", biddingerrors.ErrValidation, minPasswordLength, maxPasswordLength)
	}

	role := req.Role
	if role == "" {
		role = models.RoleDealer
	}
	if !role.Valid() {
		return models.User{}, fmt.Errorf("identity: %w - unknown role %q", biddingerrors.ErrValidation, role)
	}
	if role == models.RoleAdmin && !s.cfg.OpenAdminSignup {
		return models.User{}, fmt.Errorf("identity: %w - admin accounts cannot be self-registered", biddingerrors.ErrForbidden)
	}

	return s.createUser(ctx, email, req.Password, strings.TrimSpace(req.Name), role)
}

// EnsureAdmin creates the bootstrap admin account unless the email is already taken
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.User{}, err
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, biddingerrors.ErrUserNotFound):
		return models.User{}, fmt.Errorf("identity: failed to look up admin %s: %w", email, err)
	}

	return s.createUser(ctx, email, password, name, models.RoleAdmin)
}

func (s *Service) createUser(ctx context.Context, email, password, name string, role models.Role) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("identity: hash password: %w", err)
	}

	user := models.User{
		UserID:       utils.GenerateID(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return models.User{}, fmt.Errorf("identity: failed to register %s: %w", email, err)
	}
	return user, nil
}

// Login checks the password and returns a signed bearer token for the user
func (s *Service) Login(ctx context.Context, email, password string) (string, models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, biddingerrors.ErrUserNotFound) {
			return "", models.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidCredentials)
		}
		return "", models.User{}, fmt.Errorf("identity: failed to look up %s: %w", email, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", models.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidCredentials)
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", models.User{}, err
	}
	return token, user, nil
}

// IssueToken signs an HS256 token carrying the user's id, role and display identity
func (s *Service) IssueToken(user models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  user.Role,
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	})

	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies a bearer token and returns the principal it names
func (s *Service) Authenticate(token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, fmt.Errorf("identity: %w - missing token", biddingerrors.ErrUnauthenticated)
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return models.Principal{}, fmt.Errorf("identity: %w - %v", biddingerrors.ErrUnauthenticated, err)
	}
	if c.Subject == "" || !c.Role.Valid() {
		return models.Principal{}, fmt.Errorf("identity: %w - incomplete token claims", biddingerrors.ErrUnauthenticated)
	}

	user := models.User{UserID: c.Subject, Email: c.Email, Name: c.Name, Role: c.Role}
	return user.Principal(), nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", fmt.Errorf("identity: %w - invalid email %q", biddingerrors.ErrValidation, raw)
	}
	return strings.ToLower(addr.Address), nil
}
