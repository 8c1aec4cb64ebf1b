package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drivepower/client/internal/models"
)

// ErrInvalidToken covers undecodable tokens and tokens missing a usable identity.
var ErrInvalidToken = errors.New("auth: invalid token")

const (
	claimNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	claimEmailAddress   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	claimName           = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
	claimRole           = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

var (
	userIDClaims = []string{"sub", "nameid", "userId", "user_id", "id", claimNameIdentifier}
	emailClaims  = []string{"email", claimEmailAddress}
	nameClaims   = []string{"name", "unique_name", "given_name", claimName}
	roleClaims   = []string{"role", "roles", claimRole}
)

// TokenDecoder turns a signed token into a Session. Without a secret the signature is not
// checked (the client never holds the server key); expiry is always left to the caller so
// it can be compared against an injected clock.
type TokenDecoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenDecoder returns a decoder; secret may be empty.
func NewTokenDecoder(secret string) *TokenDecoder {
	d := &TokenDecoder{parser: jwt.NewParser(jwt.WithoutClaimsValidation())}
	if secret != "" {
		d.secret = []byte(secret)
	}
	return d
}

// Decode parses token and extracts identity claims.
func (d *TokenDecoder) Decode(token string) (models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Session{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var parsed *jwt.Token
	var err error
	if d.secret != nil {
		parsed, err = d.parser.ParseWithClaims(token, jwt.MapClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("token: unexpected signing method")
			}
			return d.secret, nil
		})
		if err == nil && !parsed.Valid {
			err = errors.New("token: signature not valid")
		}
	} else {
		parsed, _, err = d.parser.ParseUnverified(token, jwt.MapClaims{})
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Session{}, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	session := models.Session{
		UserID:      firstClaim(claims, userIDClaims),
		Email:       firstClaim(claims, emailClaims),
		DisplayName: firstClaim(claims, nameClaims),
		Token:       token,
	}
	if session.UserID == "" {
		return models.Session{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}

	if rawRole := firstClaim(claims, roleClaims); rawRole != "" {
		role, ok := models.ParseRole(rawRole)
		if !ok {
			return models.Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, rawRole)
		}
		session.Role = role
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		session.ExpiresAt = exp.Time.UTC()
	}
	return session, nil
}

func firstClaim(claims jwt.MapClaims, keys []string) string {
	for _, key := range keys {
		if v := claimString(claims[key]); v != "" {
			return v
		}
	}
	return ""
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []interface{}:
		// multi-role tokens: the first entry wins
		if len(val) > 0 {
			return claimString(val[0])
		}
	}
	return ""
}

// expiresWithin is used by the scheduler to log upcoming expiries.
func expiresWithin(session models.Session, now time.Time, window time.Duration) bool {
	if session.ExpiresAt.IsZero() {
		return false
	}
	return session.ExpiresAt.Sub(now) <= window
}
