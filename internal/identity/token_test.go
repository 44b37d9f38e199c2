package identity_test

import (
	"testing"
	"time"

	"loanflow/internal/identity"
	"loanflow/internal/testutil"
)

func TestTokenIssuer(t *testing.T) {
	clock := testutil.FixedClock()
	issuer, err := identity.NewTokenIssuer([]byte(testSecret), "loanflow", time.Hour, clock)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	token, err := issuer.Issue("uid-1", "+919876543210", "tok-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "uid-1" || claims.ID != "tok-1" || claims.Issuer != "loanflow" {
		t.Errorf("claims = %+v", claims.RegisteredClaims)
	}

	t.Run("expired", func(t *testing.T) {
		later := testutil.NewStubClock(clock.Now().Add(2 * time.Hour))
		v, _ := identity.NewTokenIssuer([]byte(testSecret), "loanflow", time.Hour, later)
		if _, err := v.Verify(token); err == nil {
			t.Error("Verify() of expired token expected error")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		v, _ := identity.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), "loanflow", time.Hour, clock)
		if _, err := v.Verify(token); err == nil {
			t.Error("Verify() with wrong secret expected error")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		v, _ := identity.NewTokenIssuer([]byte(testSecret), "someone-else", time.Hour, clock)
		if _, err := v.Verify(token); err == nil {
			t.Error("Verify() with wrong issuer expected error")
		}
	})

	t.Run("short secret", func(t *testing.T) {
		if _, err := identity.NewTokenIssuer([]byte("short"), "loanflow", time.Hour, clock); err == nil {
			t.Error("NewTokenIssuer() with short secret expected error")
		}
	})
}
