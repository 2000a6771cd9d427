package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

// Identity is what a session trusts for every event after the handshake.
type Identity struct {
	UserID   string
	Name     string
	UserName string
	Role     string
}

// DisplayName is the name shown in rosters and chat.
func (i Identity) DisplayName() string {
	if i.UserName != "" {
		return i.UserName
	}
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

// Claims is the JWT body. The user id travels as the registered subject.
type Claims struct {
	Name     string `json:"name,omitempty"`
	UserName string `json:"userName,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewAuthenticator(secret string, ttl time.Duration, issuer string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, issuer: issuer}, nil
}

// Issue signs a token for identity and returns it with its expiry.
func (a *Authenticator) Issue(identity Identity) (string, time.Time, error) {
	if identity.UserID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty user id", ErrAuthRejected)
	}
	now := time.Now()
	expiresAt := now.Add(a.ttl)
	claims := &Claims{
		Name:     identity.Name,
		UserName: identity.UserName,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks signature, algorithm, and expiry, and returns the identity.
func (a *Authenticator) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrAuthRejected)
	}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, options...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrAuthRejected)
	}
	return Identity{
		UserID:   claims.Subject,
		Name:     claims.Name,
		UserName: claims.UserName,
		Role:     claims.Role,
	}, nil
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for clients that cannot set headers on a websocket upgrade.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
