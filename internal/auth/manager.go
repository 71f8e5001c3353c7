// Package auth owns the access token lifecycle: acquisition, proactive
// renewal ahead of expiry, and read-only hand-out to the transport layer.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"

	"marketfeed/pkg/exception"
)

const (
	// DefaultLookahead renews when the remaining token lifetime drops under
	// one hour of a typically day-long token.
	DefaultLookahead = time.Hour
	// DefaultRetryDelay re-arms the proactive renewal timer after a
	// transient failure.
	DefaultRetryDelay = 30 * time.Second
)

// Manager caches the current credential and renews it proactively. Concurrent
// Token calls during a renewal share a single in-flight request.
type Manager struct {
	provider   Provider
	lookahead  time.Duration
	retryDelay time.Duration
	now        func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cred   Credential
	timer  *time.Timer
	closed bool
}

// NewManager builds a manager; zero durations take the defaults. The
// background renewal timer starts on the first Token call or Start.
func NewManager(provider Provider, lookahead, retryDelay time.Duration) *Manager {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Manager{
		provider:   provider,
		lookahead:  lookahead,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// Start performs the initial acquisition so the first connection attempt
// never stalls on authentication.
func (m *Manager) Start(ctx context.Context) error {
	_, err := m.Token(ctx)
	return err
}

// Token returns a credential with at least the configured lookahead of
// remaining lifetime, renewing first when needed. It never returns an
// expired credential.
func (m *Manager) Token(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Credential{}, exception.ErrManagerClosed
	}
	if cred := m.cred; cred.Valid(m.now(), m.lookahead) {
		m.mu.Unlock()
		return cred, nil
	}
	m.mu.Unlock()

	return m.renew(ctx)
}

// Refresh forces a renewal regardless of remaining lifetime, for when the
// broker rejects a token that still looks valid locally.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Credential{}, exception.ErrManagerClosed
	}
	m.cred = Credential{}
	m.mu.Unlock()
	return m.renew(ctx)
}

// renew deduplicates concurrent renewal attempts; every waiter receives the
// credential produced by the single in-flight call.
func (m *Manager) renew(ctx context.Context) (Credential, error) {
	result, err, _ := m.group.Do("renew", func() (any, error) {
		cred, err := m.provider.Authenticate(ctx)
		if err != nil {
			return Credential{}, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Credential{}, exception.ErrManagerClosed
		}
		m.cred = cred
		m.armTimerLocked(cred.ValidUntil.Sub(m.now()) - m.lookahead)
		m.mu.Unlock()

		logs.Infof("credential renewed, identity: %s, valid until: %s", cred.Identity, cred.ValidUntil.Format(time.RFC3339))
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return result.(Credential), nil
}

// armTimerLocked schedules the next proactive renewal. Callers hold m.mu.
// A token issued with less lifetime than the lookahead would otherwise re-arm
// at zero and spin; never renew faster than the retry delay.
func (m *Manager) armTimerLocked(wait time.Duration) {
	if wait < m.retryDelay {
		wait = m.retryDelay
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(wait, m.renewInBackground)
}

func (m *Manager) renewInBackground() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if _, err := m.renew(context.Background()); err != nil {
		if errors.Is(err, exception.ErrInvalidCredentials) {
			// Not recoverable by retrying the same pair; surface on the
			// next Token call instead of spinning.
			logs.Errorf("background renewal rejected: %+v", err)
			return
		}
		logs.Warnf("background renewal failed, retry in %s: %+v", m.retryDelay, err)
		m.mu.Lock()
		if !m.closed {
			m.armTimerLocked(m.retryDelay)
		}
		m.mu.Unlock()
	}
}

// Close cancels the renewal timer. Subsequent Token calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}
