// Package auth validates the HS256 tokens issued by the account service and
// resolves them to users. Login and registration happen elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/models"
	"gorm.io/gorm"
)

// DefaultTokenTTL is the lifetime of tokens minted by IssueToken
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrNoToken is returned when a request carries no credentials
	ErrNoToken = errors.New("no authentication token provided")

	// ErrInvalidToken covers bad signatures, wrong algorithms, expiry and malformed claims
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates tokens
type Service struct {
	jwtSecret []byte
	db        *gorm.DB
	now       func() time.Time
}

// NewService creates a token service. db is used to load the user behind a token.
func NewService(jwtSecret []byte, db *gorm.DB) *Service {
	return &Service{
		jwtSecret: jwtSecret,
		db:        db,
		now:       time.Now,
	}
}

// IssueToken mints a token for user valid for ttl (DefaultTokenTTL when ttl <= 0)
func (s *Service) IssueToken(user *models.User, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, algorithm and expiry and returns the claims
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate validates tokenString and loads the user it names
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.User, *Claims, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, nil, err
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: user %s: %w", ErrInvalidToken, claims.UserID, apperrors.ErrRecordNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load token user: %w", err)
	}
	return &user, claims, nil
}

// TokenFromRequest extracts a token from the Authorization header ("Bearer <token>")
// or, for socket handshakes that cannot set headers, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}
