package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	got, ok := AccessExpiry(signed)
	if !ok {
		t.Fatalf("AccessExpiry() ok = false, want true")
	}
	if !got.Equal(exp) {
		t.Fatalf("AccessExpiry() = %v, want %v", got, exp)
	}

	if _, ok = AccessExpiry("opaque-token"); ok {
		t.Fatalf("AccessExpiry() on opaque token ok = true, want false")
	}
	if _, ok = AccessExpiry(""); ok {
		t.Fatalf("AccessExpiry() on empty token ok = true, want false")
	}
}
