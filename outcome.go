package spanlock

import (
	"fmt"
	"time"
)

// Outcome reports how a Start call ended.
type Outcome struct {
	// Executed is true when this client ran the critical section. False
	// means another client completed the work, or the predicate reported
	// no work was needed.
	Executed bool
	// Retries counts completed scheduler passes beyond the first attempt.
	Retries int
	// Elapsed is the total time spent in Start.
	Elapsed time.Duration
}

func (o Outcome) String() string {
	return fmt.Sprintf("executed=%t retries=%d elapsed=%s", o.Executed, o.Retries, o.Elapsed)
}
