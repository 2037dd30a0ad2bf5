package spanlock

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ClientIdentity names one running mutex attempt. Every write a client
// makes is tagged with it, which is how other clients decide whether a
// STARTED row still belongs to the same owner. Reusing an identity across
// concurrent attempts breaks that detection; generate one per client.
type ClientIdentity struct {
	// UUID is the unique identity compared during claim verification.
	UUID string
	// DisplayName is informational, for humans reading the row or logs.
	DisplayName string
}

// NewClientIdentity returns a fresh identity with a random UUID and a
// display name derived from the host and process.
func NewClientIdentity() ClientIdentity {
	id := uuid.NewString()
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return ClientIdentity{
		UUID:        id,
		DisplayName: fmt.Sprintf("%s/pid-%d/%s", host, os.Getpid(), id[:8]),
	}
}

// Validate checks the identity is usable.
func (c ClientIdentity) Validate() error {
	if _, err := uuid.Parse(c.UUID); err != nil {
		return fmt.Errorf("client uuid %q: %w", c.UUID, err)
	}
	if c.DisplayName == "" {
		return fmt.Errorf("client display name is required")
	}
	return nil
}

func (c ClientIdentity) String() string {
	return fmt.Sprintf("%s (%s)", c.DisplayName, c.UUID)
}
