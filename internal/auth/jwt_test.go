package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)

	token, err := m.Generate("worker-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "worker-1" {
		t.Errorf("Expected subject worker-1, got %s", claims.Subject)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Expected issuer %s, got %s", Issuer, claims.Issuer)
	}
}

func TestTokenManagerRejects(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	valid, err := m.Generate("operator")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	expired := NewTokenManager("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Generate("operator")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	other, err := NewTokenManager("other-secret", time.Hour).Generate("operator")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Claims of another subject under the operator's signature
	admin, err := m.Generate("admin")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	a, v := strings.Split(admin, "."), strings.Split(valid, ".")
	tampered := strings.Join([]string{a[0], a[1], v[2]}, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", stale},
		{"wrong secret", other},
		{"tampered", tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestGenerateRequiresSubject(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	if _, err := m.Generate(""); err == nil {
		t.Error("Expected error for empty subject")
	}
}
