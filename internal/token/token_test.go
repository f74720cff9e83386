package token

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowcrm.org/internal/auth"
)

func testPrincipal() auth.Principal {
	return auth.Principal{
		AccountID: "u1",
		Name:      "Ada",
		Email:     "a@x.com",
		Permissions: auth.PermissionGrant{
			Modules:  map[auth.ModuleName]bool{auth.ModuleProducts: true},
			Presales: auth.PresaleGrant{CanViewOwn: true},
		},
		IssuedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestIssueAndVerify(t *testing.T) {
	c, err := NewCodec("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	signed, err := c.Issue(testPrincipal(), 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := c.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}

	p := claims.Principal()
	if p.AccountID != "u1" || !p.Permissions.Modules[auth.ModuleProducts] {
		t.Fatalf("principal not rebuilt: %+v", p)
	}
	if !auth.HasPermission(p, "presales.canViewOwn") {
		t.Fatal("grant lost in the round trip")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	var mu sync.Mutex
	current := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	c, err := NewCodec("test-secret", WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	signed, err := c.Issue(testPrincipal(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	current = current.Add(11 * time.Minute)
	mu.Unlock()

	if _, err := c.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	c, _ := NewCodec("test-secret")
	signed, err := c.Issue(testPrincipal(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(signed, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := c.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other, _ := NewCodec("other-secret")
	if _, err := other.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection across secrets, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuerA, _ := NewCodec("test-secret", WithIssuer("a"))
	issuerB, _ := NewCodec("test-secret", WithIssuer("b"))

	signed, err := issuerA.Issue(testPrincipal(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuerB.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch rejection, got %v", err)
	}
}

func TestIssueValidation(t *testing.T) {
	c, _ := NewCodec("test-secret")

	if _, err := c.Issue(auth.Principal{}, time.Minute); err == nil {
		t.Fatal("expected error for principal without account id")
	}
	if _, err := c.Issue(testPrincipal(), 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
	if _, err := NewCodec("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
