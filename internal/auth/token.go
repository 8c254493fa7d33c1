package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleAdmin   = "admin"
	RoleFaculty = "faculty"
	RoleStudent = "student"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// User is the identity a verified token carries. Year is set for students.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Year string `json:"year,omitempty"`
}

type Claims struct {
	Role string `json:"role"`
	Year string `json:"year,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

func (v *Verifier) Verify(tokenString string) (*User, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: expiry is required", ErrInvalidToken)
	}

	user := &User{
		ID:   strings.TrimSpace(claims.Subject),
		Role: strings.ToLower(strings.TrimSpace(claims.Role)),
		Year: strings.TrimSpace(claims.Year),
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	switch user.Role {
	case RoleAdmin, RoleFaculty, RoleStudent:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, user.Role)
	}
	return user, nil
}

// Issue signs a token for user valid for ttl. Used by tests and local tooling.
func (v *Verifier) Issue(user User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: user.Role,
		Year: user.Year,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(header string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(header))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", ErrMissingToken
	}
	return fields[1], nil
}
