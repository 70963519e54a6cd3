package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp *jwt.NumericDate) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "hub",
		ExpiresAt: exp,
	})
	s, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestCheckToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantExp time.Time
		wantErr error
	}{
		{name: "empty", token: "", wantErr: ErrTokenMissing},
		{name: "opaque", token: "not-a-jwt"},
		{name: "jwt without expiry", token: signedToken(t, nil)},
		{
			name:    "valid jwt",
			token:   signedToken(t, jwt.NewNumericDate(now.Add(24*time.Hour))),
			wantExp: now.Add(24 * time.Hour),
		},
		{
			name:    "expired jwt",
			token:   signedToken(t, jwt.NewNumericDate(now.Add(-time.Hour))),
			wantExp: now.Add(-time.Hour),
			wantErr: ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := CheckToken(tt.token, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckToken() error = %v, want %v", err, tt.wantErr)
			}
			if !exp.Equal(tt.wantExp) {
				t.Errorf("CheckToken() exp = %v, want %v", exp, tt.wantExp)
			}
		})
	}
}
