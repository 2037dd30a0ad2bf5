package spanlock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is the maximum critical-section duration handed to the
	// executor as its deadline budget.
	DefaultTTL = 30 * time.Second
	// DefaultStalenessWindow is how old a STARTED row must be before other
	// clients treat the claim as abandoned and steal it.
	DefaultStalenessWindow = 5 * time.Minute
	// DefaultWaitBudget caps the total wall-clock time one Start call may
	// spend retrying.
	DefaultWaitBudget = 5 * time.Minute
	// DefaultMaxRetries caps scheduler passes beyond the first attempt.
	DefaultMaxRetries = 10
	// DefaultWaitInterval is the base WAITING backoff interval.
	DefaultWaitInterval = 500 * time.Millisecond
)

// Config is the immutable identity and timing policy of one mutex lineage.
// Every client racing on the same critical section must use the same
// MutexUUID; the remaining parameters should normally match across clients
// but only shape each client's own behaviour.
type Config struct {
	// MutexUUID is the row key. Required, must parse as a UUID.
	MutexUUID string
	// DisplayName is informational; defaults to MutexUUID.
	DisplayName string
	// TTL bounds the critical-section duration. The executor receives
	// claim commit time + TTL as its deadline.
	TTL time.Duration
	// StalenessWindow is the watermark past which an unfinished STARTED
	// row is presumed abandoned. It is compared against the store-assigned
	// commit timestamp using this client's local clock, so set it
	// generously relative to TTL and expected clock skew. Must be >= TTL.
	StalenessWindow time.Duration
	// WaitBudget is the hard ceiling on total retrying inside Start. An
	// execution already in flight runs to its own deadline regardless.
	WaitBudget time.Duration
	// MaxRetries caps scheduler passes beyond the first. Zero means a
	// single pass: useful when the caller wants claim-or-give-up
	// semantics.
	MaxRetries int
	// WaitInterval is the base backoff interval for the WAITING state;
	// jitter and growth are derived from it.
	WaitInterval time.Duration
}

// SetDefaults fills unset timing parameters. MaxRetries is left alone:
// zero is a meaningful value.
func (c *Config) SetDefaults() {
	if c.DisplayName == "" {
		c.DisplayName = c.MutexUUID
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.StalenessWindow == 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.WaitBudget == 0 {
		c.WaitBudget = DefaultWaitBudget
	}
	if c.WaitInterval == 0 {
		c.WaitInterval = DefaultWaitInterval
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.MutexUUID); err != nil {
		return fmt.Errorf("mutex uuid %q: %w", c.MutexUUID, err)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	}
	if c.StalenessWindow < c.TTL {
		return fmt.Errorf("staleness window %s must be at least the ttl %s", c.StalenessWindow, c.TTL)
	}
	if c.WaitBudget <= 0 {
		return fmt.Errorf("wait budget must be positive, got %s", c.WaitBudget)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.WaitInterval <= 0 {
		return fmt.Errorf("wait interval must be positive, got %s", c.WaitInterval)
	}
	return nil
}
