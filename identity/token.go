package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/models"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

// Claims is the payload of portal access tokens.
type Claims struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates HS256 access tokens.
type TokenManager struct {
	secret     []byte
	expiration time.Duration
	issuer     string
	now        func() time.Time
}

// NewTokenManager builds a manager from config. An empty secret falls back
// to a development key; config.validate rejects that in production.
func NewTokenManager(cfg config.JWTConfig) *TokenManager {
	secret := cfg.Secret
	if secret == "" {
		secret = "permitchat-dev-secret-do-not-use-in-production"
	}
	exp := cfg.Expiration
	if exp <= 0 {
		exp = 24 * time.Hour
	}
	return &TokenManager{
		secret:     []byte(secret),
		expiration: exp,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
}

// Generate issues a token for u and returns it with its expiry.
func (m *TokenManager) Generate(u *models.User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiration)

	claims := &Claims{
		UserID: u.ID,
		Role:   u.Role,
		Name:   u.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate parses and verifies a token.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ActorFromClaims maps token roles onto actors.
func ActorFromClaims(c *Claims) (Actor, error) {
	if c.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	switch c.Role {
	case models.RoleStaff, models.RoleAdmin:
		return Staff{UserID: c.UserID, Role: c.Role}, nil
	case models.RoleUser:
		return Applicant{UserID: c.UserID}, nil
	default:
		return nil, ErrUnknownRole
	}
}
