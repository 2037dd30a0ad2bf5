package spanlock

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"pkt.systems/spanlock/store"
	"pkt.systems/spanlock/store/memory"
	spannerstore "pkt.systems/spanlock/store/spanner"
)

// OpenStore builds a store backend from a URL:
//
//	mem://
//	spanner://projects/<p>/instances/<i>/databases/<d>?table=<table>
//
// The memory backend coordinates only within one process and exists for
// tests and demos. The table query parameter defaults to
// spanner.DefaultTable.
func OpenStore(ctx context.Context, rawURL string) (store.Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("spanlock: parse store url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "mem":
		return memory.New(), nil
	case "spanner":
		database := strings.Trim(u.Host+u.Path, "/")
		table := u.Query().Get("table")
		if table == "" {
			table = spannerstore.DefaultTable
		}
		return spannerstore.New(ctx, spannerstore.Config{
			Database: database,
			Table:    table,
		})
	default:
		return nil, fmt.Errorf("spanlock: unsupported store scheme %q (want mem or spanner)", u.Scheme)
	}
}
