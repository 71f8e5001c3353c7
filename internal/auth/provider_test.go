package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketfeed/pkg/exception"
)

func TestHTTPProviderAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %+v", err)
		}
		if req.ConsumerID != "id-1" || req.ConsumerSecret != "secret-1" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(tokenResponse{
			Identity:  "trader-1",
			Token:     "abc",
			ExpiresIn: 86400,
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "id-1", "secret-1")
	cred, err := provider.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %+v", err)
	}
	if cred.Identity != "trader-1" || cred.Token != "abc" {
		t.Fatalf("credential: %+v", cred)
	}
	if remaining := time.Until(cred.ValidUntil); remaining < 23*time.Hour {
		t.Fatalf("remaining lifetime: %s", remaining)
	}
}

func TestHTTPProviderRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "id-1", "wrong")
	_, err := provider.Authenticate(context.Background())
	if !errors.Is(err, exception.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %+v", err)
	}
}

func TestHTTPProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "id-1", "secret-1")
	_, err := provider.Authenticate(context.Background())
	if !errors.Is(err, exception.ErrAuthenticate) {
		t.Fatalf("expected transient auth error, got %+v", err)
	}
	if errors.Is(err, exception.ErrInvalidCredentials) {
		t.Fatalf("5xx must not be classified as rejected credentials: %+v", err)
	}
}
