package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/law1om/analytics-platform/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	p := Principal{UserID: 7, Email: "ramil@bank.com", Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(3)}
	tok, err := IssueToken("secret", "bankctl", p, time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := ParseToken("secret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.UserID != 7 || got.Role != domain.RoleEmployee || got.DivisionID == nil || *got.DivisionID != 3 {
		t.Fatalf("unexpected principal: %+v", got)
	}
	if _, err := ParseToken("other", tok); err == nil {
		t.Fatalf("expected signature error")
	}
	expired, _ := IssueToken("secret", "bankctl", p, time.Minute, now.Add(-time.Hour))
	if _, err := ParseToken("secret", expired); err == nil {
		t.Fatalf("expected expiry error")
	}
	if _, err := IssueToken("", "bankctl", p, time.Hour, now); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestPeekTokenIgnoresSignature(t *testing.T) {
	p := Principal{UserID: 1, Role: domain.RoleAdmin}
	tok, err := IssueToken("secret", "bankctl", p, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := PeekToken(tok)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got.UserID != 1 || !got.IsAdmin() {
		t.Fatalf("unexpected principal: %+v", got)
	}
	if _, err := PeekToken("garbage"); err == nil {
		t.Fatalf("expected malformed token error")
	}
}

func TestPasswords(t *testing.T) {
	h, err := HashPassword("admin123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := CheckPassword(h, "admin123"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := CheckPassword(h, "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestRequireDivision(t *testing.T) {
	emp := Principal{UserID: 2, Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(1)}
	if err := RequireDivision(emp, 1, "goal.write"); err != nil {
		t.Fatalf("own division: %v", err)
	}
	var fe ForbiddenError
	if err := RequireDivision(emp, 2, "goal.write"); !errors.As(err, &fe) || fe.Action != "goal.write" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := RequireDivision(Principal{Role: domain.RoleEmployee}, 1, "goal.write"); err == nil {
		t.Fatalf("employee without division must be refused")
	}
	if err := RequireAdmin(emp, "division.write"); err == nil {
		t.Fatalf("employee is not admin")
	}
	if err := RequireAdmin(System, "division.write"); err != nil {
		t.Fatalf("system is admin: %v", err)
	}
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("bearer parse")
	}
}
