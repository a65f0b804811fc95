package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL applies when a caller has no configured token lifetime.
const DefaultTTL = 15 * time.Minute

var (
	// ErrInvalid marks tokens that are malformed or fail signature checks.
	ErrInvalid = errors.New("jwt: token invalid")
	// ErrExpired marks tokens whose signature verified but whose expiry passed.
	ErrExpired = errors.New("jwt: token expired")
)

// Claims is the payload carried by an access token. IsAdmin is a snapshot of
// the user's privilege at issuance time; callers must not treat it as current.
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwtlib.RegisteredClaims
}

// Username returns the subject the token asserts.
func (c *Claims) Username() string {
	return c.Subject
}

// Generate issues an HS256-signed token for the given subject. The ttl is used
// exactly as provided, so a zero ttl yields an already expired token.
func Generate(username string, isAdmin bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "sat-tool",
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse verifies the signature and expiry before trusting any claim. Expiry is
// reported as ErrExpired, every other failure as ErrInvalid, so callers can
// tell the two apart without inspecting library internals.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
