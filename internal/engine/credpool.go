package engine

import (
	"sync"
	"time"
)

// DefaultCooldown is how long a quarantined credential stays out of rotation.
const DefaultCooldown = 24 * time.Hour

// PoolOptions configures a credential pool.
type PoolOptions struct {
	Provider string
	Secrets  []string
	Cooldown time.Duration
	Clock    func() time.Time
}

// PoolStatus is a point-in-time snapshot of pool occupancy.
type PoolStatus struct {
	Provider    string `json:"provider"`
	Total       int    `json:"total"`
	Available   int    `json:"available"`
	Quarantined int    `json:"quarantined"`
}

type credEntry struct {
	secret        string
	quarantinedAt time.Time
}

func (e *credEntry) eligible(now time.Time, cooldown time.Duration) bool {
	return e.quarantinedAt.IsZero() || now.Sub(e.quarantinedAt) >= cooldown
}

// Pool rotates a provider's credentials round-robin, quarantining ones that
// fail with quota errors until the cooldown elapses. It is the one piece of
// state shared across concurrent job runners for a provider, so every read
// and mutation of the cursor and quarantine set holds the mutex.
type Pool struct {
	mu       sync.Mutex
	provider string
	cooldown time.Duration
	now      func() time.Time
	entries  []*credEntry
	cursor   int
}

// NewPool constructs a pool over the given secrets in order.
func NewPool(opts PoolOptions) *Pool {
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	entries := make([]*credEntry, 0, len(opts.Secrets))
	for _, secret := range opts.Secrets {
		if secret == "" {
			continue
		}
		entries = append(entries, &credEntry{secret: secret})
	}
	return &Pool{
		provider: opts.Provider,
		cooldown: cooldown,
		now:      now,
		entries:  entries,
	}
}

// Provider returns the provider name this pool serves.
func (p *Pool) Provider() string {
	return p.provider
}

// Acquire returns the next usable credential, advancing the rotation cursor
// past it. Quarantined credentials whose cooldown has elapsed are released
// first. When every credential is quarantined the first configured one is
// returned anyway so the caller can surface the eventual provider error
// instead of blocking. The second return is false only for an empty pool.
func (p *Pool) Acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return "", false
	}

	p.releaseExpiredLocked()

	for i := 0; i < len(p.entries); i++ {
		idx := (p.cursor + i) % len(p.entries)
		entry := p.entries[idx]
		if entry.eligible(p.now(), p.cooldown) {
			p.cursor = (idx + 1) % len(p.entries)
			return entry.secret, true
		}
	}

	// Degrade gracefully: all quarantined, hand out the first anyway.
	return p.entries[0].secret, true
}

// MarkFailed quarantines the credential and reports whether a different
// usable credential remains for an immediate retry.
func (p *Pool) MarkFailed(secret string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, entry := range p.entries {
		if entry.secret == secret {
			entry.quarantinedAt = now
		}
	}

	for i := 0; i < len(p.entries); i++ {
		idx := (p.cursor + i) % len(p.entries)
		if p.entries[idx].eligible(now, p.cooldown) {
			p.cursor = idx
			return true
		}
	}
	return false
}

// Status reports total, available and quarantined credential counts.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PoolStatus{Provider: p.provider, Total: len(p.entries)}
	now := p.now()
	for _, entry := range p.entries {
		if entry.eligible(now, p.cooldown) {
			status.Available++
		} else {
			status.Quarantined++
		}
	}
	return status
}

func (p *Pool) releaseExpiredLocked() {
	now := p.now()
	for _, entry := range p.entries {
		if !entry.quarantinedAt.IsZero() && now.Sub(entry.quarantinedAt) >= p.cooldown {
			entry.quarantinedAt = time.Time{}
		}
	}
}
