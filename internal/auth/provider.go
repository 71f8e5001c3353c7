package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/yanun0323/errors"

	"marketfeed/pkg/exception"
)

// Provider obtains a fresh identity/token pair from the upstream credential
// endpoint. Implementations must distinguish transient failures
// (exception.ErrAuthenticate) from rejected credentials
// (exception.ErrInvalidCredentials).
type Provider interface {
	Authenticate(ctx context.Context) (Credential, error)
}

type tokenRequest struct {
	ConsumerID     string `json:"consumerId"`
	ConsumerSecret string `json:"consumerSecret"`
}

type tokenResponse struct {
	Identity  string `json:"identity"`
	Token     string `json:"accessToken"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

// HTTPProvider exchanges a consumer id/secret for an access token over HTTP.
type HTTPProvider struct {
	endpoint string
	id       string
	secret   string
	client   *http.Client
}

func NewHTTPProvider(endpoint, consumerID, consumerSecret string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		id:       consumerID,
		secret:   consumerSecret,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Authenticate(ctx context.Context) (Credential, error) {
	body, err := json.Marshal(tokenRequest{ConsumerID: p.id, ConsumerSecret: p.secret})
	if err != nil {
		return Credential{}, errors.Wrap(exception.ErrAuthenticate, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, errors.Wrap(exception.ErrAuthenticate, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, errors.Wrap(exception.ErrAuthenticate, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Credential{}, errors.Wrapf(exception.ErrInvalidCredentials, "status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Credential{}, errors.Wrapf(exception.ErrAuthenticate, "status: %d", resp.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, errors.Wrap(exception.ErrAuthenticate, err.Error())
	}
	if payload.Token == "" || payload.ExpiresIn <= 0 {
		return Credential{}, errors.Wrap(exception.ErrAuthenticate, "empty token in response")
	}

	now := time.Now()
	identity := payload.Identity
	if identity == "" {
		identity = p.id
	}
	return Credential{
		Identity:   identity,
		Token:      payload.Token,
		IssuedAt:   now,
		ValidUntil: now.Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}
