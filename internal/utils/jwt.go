package utils // package utils provides helper functions for token creation, hashing and signature checks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
	"github.com/thejerf/abtime"    // clock abstraction so expiry can be driven by tests
)

// TokenType is reported to clients next to every access token.
const TokenType = "bearer"

var (
	// ErrTokenMalformed covers every token that cannot be trusted: bad
	// encoding, wrong signature or algorithm, missing subject.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned once the current time reaches exp.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the payload of a session token: the subject (user id) and the
// granted scopes plus the registered exp/iat claims.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp; it is truncated to whole seconds like the exp claim itself.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenIssuer mints and validates session tokens.  The signing key and
// algorithm are fixed at construction; an issuer is safe for concurrent use.
type TokenIssuer struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	clock  abtime.AbstractTime
}

// NewTokenIssuer returns an issuer for the HMAC algorithm named by alg
// (HS256, HS384 or HS512).  A nil clock means the real time.
func NewTokenIssuer(secret, alg string, clock abtime.AbstractTime) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("empty signing secret")
	}
	method, ok := jwt.GetSigningMethod(strings.ToUpper(alg)).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &TokenIssuer{secret: []byte(secret), method: method, clock: clock}, nil
}

// Issue builds and signs a token for subject carrying scopes, valid for ttl
// from now.
func (ti *TokenIssuer) Issue(subject string, scopes []string, ttl time.Duration) (AccessToken, error) {
	now := ti.clock.Now().UTC()
	exp := jwt.NewNumericDate(now.Add(ttl))
	if scopes == nil {
		scopes = []string{}
	}
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(ti.method, claims).SignedString(ti.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp.Time.UTC()}, nil
}

// Parse verifies raw and returns its claims.  Every failure is either
// ErrTokenExpired or ErrTokenMalformed.
func (ti *TokenIssuer) Parse(raw string) (Claims, error) {
	claims := Claims{}
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{ti.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: no subject", ErrTokenMalformed)
	}
	return claims, nil
}

// CheckScopes reports whether every required scope is granted.
func CheckScopes(granted, required []string) bool {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}
