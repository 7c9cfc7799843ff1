package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	maxLoginAttempts = 5
	lockoutWindow    = 15 * time.Minute
)

type authClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthManager issues and verifies HS256 access tokens and throttles repeated
// failed logins per username.
type AuthManager struct {
	repo   store.Repository
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	attempts map[string]*loginAttempts
}

type loginAttempts struct {
	failures  int
	lastTried time.Time
}

func NewAuthManager(repo store.Repository, secret string, ttl time.Duration) *AuthManager {
	return &AuthManager{
		repo:     repo,
		secret:   []byte(secret),
		ttl:      ttl,
		attempts: make(map[string]*loginAttempts),
	}
}

func (a *AuthManager) Login(ctx context.Context, username string, password string) (*domain.LoginResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if a.isLockedOut(username) {
		return nil, ErrTooManyAttempts
	}

	user, err := a.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		a.recordFailure(username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		a.recordFailure(username)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		a.recordFailure(username)
		return nil, ErrInvalidCredentials
	}
	a.clearFailures(username)

	expiresAt := time.Now().UTC().Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return nil, err
	}

	return &domain.LoginResponse{
		AccessToken: signed,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) VerifyToken(tokenString string) (domain.Actor, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) isLockedOut(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, exists := a.attempts[username]
	if !exists {
		return false
	}
	if time.Since(entry.lastTried) > lockoutWindow {
		delete(a.attempts, username)
		return false
	}
	return entry.failures >= maxLoginAttempts
}

func (a *AuthManager) recordFailure(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, exists := a.attempts[username]
	if !exists || time.Since(entry.lastTried) > lockoutWindow {
		entry = &loginAttempts{}
		a.attempts[username] = entry
	}
	entry.failures++
	entry.lastTried = time.Now()
}

func (a *AuthManager) clearFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attempts, username)
}
