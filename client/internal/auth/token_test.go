package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drivepower/client/internal/models"
)

func TestDecoderReadsLongFormClaims(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{
		claimNameIdentifier: "42",
		claimEmailAddress:   "m@example.com",
		claimName:           "Maria",
		claimRole:           []interface{}{"Admin", "Manager"},
		"exp":               time.Now().Add(time.Hour).Unix(),
	})

	session, err := NewTokenDecoder("").Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.UserID != "42" || session.Email != "m@example.com" || session.DisplayName != "Maria" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Role != models.RoleAdmin {
		t.Fatalf("expected first role to win, got %q", session.Role)
	}
	if session.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be decoded")
	}
}

func TestDecoderVerifiesSignatureWhenSecretConfigured(t *testing.T) {
	token := mintToken(t, validClaims("1", "user"))

	if _, err := NewTokenDecoder(testSecret).Decode(token); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if _, err := NewTokenDecoder("other-secret").Decode(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestDecoderRejectsMissingIdentityAndUnknownRole(t *testing.T) {
	decoder := NewTokenDecoder("")

	noID := mintToken(t, jwt.MapClaims{"email": "x@y.z"})
	if _, err := decoder.Decode(noID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without user id, got %v", err)
	}

	badRole := mintToken(t, jwt.MapClaims{"sub": "1", "role": "superuser"})
	if _, err := decoder.Decode(badRole); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestDecoderKeepsExpiredTokensForCaller(t *testing.T) {
	claims := validClaims("1", "user")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	session, err := NewTokenDecoder(testSecret).Decode(mintToken(t, claims))
	if err != nil {
		t.Fatalf("decode should leave expiry to the caller: %v", err)
	}
	if !session.Expired(time.Now()) {
		t.Fatalf("expected session to report expiry")
	}
}
