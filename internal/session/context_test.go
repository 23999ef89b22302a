package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRequireValid(t *testing.T) {
	tests := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{"opaque token ok", NewContext("u1", "opaque-bearer-token"), false},
		{"missing user", NewContext("", "tok"), true},
		{"missing token", NewContext("u1", ""), true},
		{"empty", Context{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.RequireValid()
			if (err != nil) != tt.wantErr {
				t.Errorf("RequireValid() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoSession) {
				t.Errorf("error %v does not wrap ErrNoSession", err)
			}
		})
	}
}

func TestRequireValidJWTExpiry(t *testing.T) {
	live := NewContext("u1", signedToken(t, time.Now().Add(time.Hour)))
	if err := live.RequireValid(); err != nil {
		t.Errorf("live JWT rejected: %v", err)
	}

	dead := NewContext("u1", signedToken(t, time.Now().Add(-time.Hour)))
	err := dead.RequireValid()
	if err == nil {
		t.Fatal("expired JWT accepted")
	}
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("error %v does not wrap ErrNoSession", err)
	}
}

func TestJWTWithoutExpClaim(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := NewContext("u1", s)
	if err := ctx.RequireValid(); err != nil {
		t.Errorf("JWT without exp rejected: %v", err)
	}
}
