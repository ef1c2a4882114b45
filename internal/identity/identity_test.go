package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/groupchat/internal/chat"
)

func TestNewJWTResolverRequiresSecret(t *testing.T) {
	if _, err := NewJWTResolver(" ", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestResolveFromHeaderAndQuery(t *testing.T) {
	j, err := NewJWTResolver("s3cret", "groupchat")
	if err != nil {
		t.Fatal(err)
	}
	token, err := j.Sign(chat.User{ID: "u1", Email: "u1@example.com", DisplayName: "Una"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	header := httptest.NewRequest("GET", "/ws", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	query := httptest.NewRequest("GET", "/ws?token="+token, nil)

	for name, req := range map[string]*http.Request{"header": header, "query": query} {
		user, err := j.Resolve(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if user.ID != "u1" || user.Email != "u1@example.com" || user.DisplayName != "Una" {
			t.Errorf("%s: user = %+v", name, user)
		}
	}
}

func TestResolveDerivesDisplayName(t *testing.T) {
	j, _ := NewJWTResolver("s3cret", "")
	token, err := j.Sign(chat.User{ID: "u2"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	user, err := j.Resolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if user.DisplayName != chat.PseudonymFor("u2") {
		t.Errorf("display name = %q, want %q", user.DisplayName, chat.PseudonymFor("u2"))
	}
}

func TestResolveRejects(t *testing.T) {
	j, _ := NewJWTResolver("s3cret", "groupchat")
	other, _ := NewJWTResolver("other", "groupchat")
	wrongIssuer, _ := NewJWTResolver("s3cret", "elsewhere")

	past := time.Now().Add(-2 * time.Hour)
	expired, _ := NewJWTResolver("s3cret", "groupchat")
	expired.now = func() time.Time { return past }

	sign := func(r *JWTResolver, ttl time.Duration) string {
		tok, err := r.Sign(chat.User{ID: "u1"}, ttl)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "groupchat"}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"wrong secret": sign(other, time.Hour),
		"wrong issuer": sign(wrongIssuer, time.Hour),
		"expired":      sign(expired, time.Hour),
		"alg none":     none,
		"no subject":   noSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			if _, err := j.Resolve(req); !errors.Is(err, chat.ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}
