package auth

import "time"

// Credential is the identity/token pair handed to the transport layer.
// Copies are read-only for callers; the manager owns the lifecycle.
type Credential struct {
	Identity   string
	Token      string
	IssuedAt   time.Time
	ValidUntil time.Time
}

// Valid reports whether the token still has at least lookahead of remaining
// lifetime at the given instant.
func (c Credential) Valid(now time.Time, lookahead time.Duration) bool {
	if c.Token == "" {
		return false
	}
	return c.ValidUntil.After(now.Add(lookahead))
}
