// Package auth provides the session collaborator for the trading API:
// email/password registration, JWT issuance, and token verification.
// Registration also creates the user's cash account, seeded with the
// configured paper-trading balance, so every verified session is backed
// by an account record.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
)

var emailRegex = regexp.MustCompile(`^[^@\s/]+@[^@\s/]+\.[^@\s/]+$`)

// Service handles registration, login, and token verification.
type Service struct {
	store           ledger.Store
	secret          []byte
	tokenTTL        time.Duration
	startingBalance decimal.Decimal
}

// NewService creates an auth service signing tokens with secret.
func NewService(store ledger.Store, secret string, tokenTTL time.Duration, startingBalance decimal.Decimal) *Service {
	return &Service{
		store:           store,
		secret:          []byte(secret),
		tokenTTL:        tokenTTL,
		startingBalance: startingBalance,
	}
}

// Register creates a new user with a hashed password and their cash
// account, atomically.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, error) {
	if !emailRegex.MatchString(email) || len(email) > 254 {
		return nil, &domain.ValidationError{Message: "email must be a valid email address"}
	}
	if len(password) < 8 {
		return nil, &domain.ValidationError{Message: "password must be at least 8 characters"}
	}
	if len(password) > 72 {
		return nil, &domain.ValidationError{Message: "password too long (max 72 characters)"}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashed),
		CreatedAt:    now,
	}
	account := &domain.Account{
		UserID:        user.UserID,
		WalletBalance: s.startingBalance,
		LockedBalance: decimal.Zero,
		CreatedAt:     now,
	}

	err = s.store.Transact(ctx, func(tx *ledger.Txn) error {
		if _, err := tx.Get(ledger.UserKey(email)); err == nil {
			return domain.ErrUserAlreadyExists
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if err := tx.Put(ledger.UserKey(email), user); err != nil {
			return err
		}
		return tx.Put(ledger.AccountKey(user.UserID), account)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and returns a signed session token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	doc, err := s.store.Get(ctx, ledger.UserKey(email))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}
	var user domain.User
	if err := doc.Unmarshal(&user); err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.UserID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

// VerifyToken validates a session token and returns the user ID it was
// issued for.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", domain.ErrInvalidCredentials
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", domain.ErrInvalidCredentials
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", domain.ErrInvalidCredentials
	}
	return sub, nil
}
