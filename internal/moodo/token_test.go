package moodo

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signedToken builds a token with the given expiry, signed with a throwaway
// key. Expiry extraction never verifies signatures, so any key works.
func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestTokenExpiresAt(t *testing.T) {
	want := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	token := signedToken(t, want)

	got, err := TokenExpiresAt(token)
	if err != nil {
		t.Fatalf("TokenExpiresAt() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("TokenExpiresAt() = %v, want %v", got, want)
	}
}

func TestTokenExpiresAt_Malformed(t *testing.T) {
	if _, err := TokenExpiresAt("not-a-jwt"); err == nil {
		t.Error("TokenExpiresAt() should fail for malformed token")
	}
}

func TestTokenExpiresAt_NoExpiry(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user"})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	if _, err := TokenExpiresAt(signed); err == nil {
		t.Error("TokenExpiresAt() should fail when exp claim is absent")
	}
}

func TestTokenExpiringWithin(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		window time.Duration
		want   bool
	}{
		{
			name:   "fresh token outside window",
			token:  signedToken(t, time.Now().Add(48*time.Hour)),
			window: time.Hour,
			want:   false,
		},
		{
			name:   "token inside window",
			token:  signedToken(t, time.Now().Add(10*time.Minute)),
			window: time.Hour,
			want:   true,
		},
		{
			name:   "already expired",
			token:  signedToken(t, time.Now().Add(-time.Hour)),
			window: time.Hour,
			want:   true,
		},
		{
			name:   "unparseable treated as expiring",
			token:  "garbage",
			window: time.Hour,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenExpiringWithin(tt.token, tt.window); got != tt.want {
				t.Errorf("TokenExpiringWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}
