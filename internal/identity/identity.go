// Package identity resolves the user behind an HTTP request from a signed
// HS256 token.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/groupchat/internal/chat"
)

// Resolver maps a request to the user making it.
type Resolver interface {
	Resolve(r *http.Request) (chat.User, error)
}

// claims is the token payload. The subject is the user id.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// JWTResolver verifies HS256 tokens carried in the Authorization header or,
// for browser WebSocket upgrades, in the token query parameter.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTResolver returns a resolver for tokens signed with secret. A
// non-empty issuer is required to match the iss claim.
func NewJWTResolver(secret, issuer string) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Resolve implements Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (chat.User, error) {
	raw := bearerToken(r)
	if raw == "" {
		return chat.User{}, chat.Errorf(chat.ErrUnauthenticated, "Authentication token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	var parsed claims
	if _, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...); err != nil {
		return chat.User{}, mapJWTError(err)
	}

	if parsed.Subject == "" {
		return chat.User{}, chat.Errorf(chat.ErrUnauthenticated, "Token has no subject")
	}
	user := chat.User{
		ID:          parsed.Subject,
		Email:       parsed.Email,
		DisplayName: strings.TrimSpace(parsed.Name),
	}
	if user.DisplayName == "" {
		user.DisplayName = chat.PseudonymFor(user.ID)
	}
	return user, nil
}

// Sign issues a token for user that Resolve accepts until ttl elapses. A
// zero ttl issues a token without expiry.
func (j *JWTResolver) Sign(user chat.User, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", errors.New("identity: user id is required")
	}
	now := j.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			Issuer:   j.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email: user.Email,
		Name:  user.DisplayName,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return chat.Errorf(chat.ErrUnauthenticated, "Token has expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return chat.Errorf(chat.ErrUnauthenticated, "Token issuer mismatch")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return chat.Errorf(chat.ErrUnauthenticated, "Token signature is invalid")
	default:
		return chat.Errorf(chat.ErrUnauthenticated, "Token is invalid")
	}
}
