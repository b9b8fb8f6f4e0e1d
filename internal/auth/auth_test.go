package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slatefs/slatefs/pkg/protocol"
)

func newTestAuth() *Auth {
	return New("test-secret", "alice", "hunter2", time.Hour)
}

func TestMintAndVerify(t *testing.T) {
	a := newTestAuth()

	token, expires, err := a.Mint("alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if time.Until(expires) < 50*time.Minute {
		t.Errorf("expiry too close: %v", expires)
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("username = %q", claims.Username)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	token, _, err := newTestAuth().Mint("alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	other := New("other-secret", "alice", "hunter2", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	a := New("test-secret", "alice", "hunter2", -time.Minute)
	token, _, err := a.Mint("alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := a.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestHandleLogin(t *testing.T) {
	a := newTestAuth()

	do := func(user, pass string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(protocol.LoginRequest{Username: user, Password: pass})
		r := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
		w := httptest.NewRecorder()
		a.HandleLogin(w, r)
		return w
	}

	w := do("alice", "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp protocol.LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := a.Verify(resp.Token); err != nil {
		t.Errorf("minted token does not verify: %v", err)
	}

	if w := do("alice", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d", w.Code)
	}
	if w := do("mallory", "hunter2"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad user: status = %d", w.Code)
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth()
	token, _, err := a.Mint("alice")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	var sawUser string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r.Context()); c != nil {
			sawUser = c.Username
		}
	})
	handler := a.Middleware(inner)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/dir?path=/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("authorized request: status = %d", w.Code)
	}
	if sawUser != "alice" {
		t.Errorf("claims not threaded into context: %q", sawUser)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dir?path=/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "missing authentication token") {
		t.Errorf("unexpected body: %s", w.Body)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/dir?path=/", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d", w.Code)
	}
}
