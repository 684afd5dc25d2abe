package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/law1om/analytics-platform/internal/domain"
)

// ForbiddenError indicates the principal may not perform an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Action)
}

var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is the authenticated user behind a request.
type Principal struct {
	UserID     int64
	Email      string
	Role       domain.Role
	DivisionID *int64
}

// System is the principal used by bootstrap code.
var System = Principal{Role: domain.RoleAdmin}

func (p Principal) IsAdmin() bool { return p.Role == domain.RoleAdmin }

// RequireAdmin returns a ForbiddenError unless p is an admin.
func RequireAdmin(p Principal, action string) error {
	if p.IsAdmin() {
		return nil
	}
	return ForbiddenError{Action: action}
}

// RequireDivision allows admins everywhere and employees only in their own division.
func RequireDivision(p Principal, divisionID int64, action string) error {
	if p.IsAdmin() {
		return nil
	}
	if p.Role == domain.RoleEmployee && p.DivisionID != nil && *p.DivisionID == divisionID {
		return nil
	}
	return ForbiddenError{Action: action}
}

type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	DivisionID *int64 `json:"division_id,omitempty"`
}

// IssueToken signs an HS256 token whose subject is the user id.
func IssueToken(secret, issuer string, p Principal, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:      p.Email,
		Role:       string(p.Role),
		DivisionID: p.DivisionID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates token and returns its principal.
func ParseToken(secret, token string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	return claims.principal()
}

// PeekToken reads the principal from token without checking its signature or
// expiry. Only use it to choose what to ask a server that verifies the token.
func PeekToken(token string) (Principal, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Principal{}, err
	}
	return claims.principal()
}

func (claims *Claims) principal() (Principal, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.New("subject claim must be a user id")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: id, Email: claims.Email, Role: role, DivisionID: claims.DivisionID}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword returns ErrInvalidCredentials when password does not match hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
