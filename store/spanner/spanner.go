// Package spanner implements store.Store on Google Cloud Spanner. The
// mutex row lives in a single table whose update_time column carries the
// commit timestamp Spanner assigns at commit, which is the protocol's sole
// trusted time source for staleness comparisons.
package spanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	gspanner "cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"pkt.systems/spanlock/store"
)

// DefaultTable is the table name used when the caller does not pick one.
const DefaultTable = "spanlock_mutex"

// Config locates the mutex table.
type Config struct {
	// Database is the full database path:
	// projects/<project>/instances/<instance>/databases/<database>.
	Database string
	// Table holds the mutex rows. See DDL for the expected schema.
	Table string
	// SkipValidation disables the existence probe performed by New.
	SkipValidation bool
}

// Validate checks the configuration shape without touching the network.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Database, "projects/") || !strings.Contains(c.Database, "/databases/") {
		return fmt.Errorf("spanner: database must look like projects/<p>/instances/<i>/databases/<d>, got %q", c.Database)
	}
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("spanner: table is required")
	}
	return nil
}

// Store is a Spanner-backed row store.
type Store struct {
	client *gspanner.Client
	table  string
}

var recordColumns = []string{
	"mutex_uuid",
	"display_name",
	"status",
	"update_time",
	"update_client_uuid",
	"update_client_display_name",
}

// New connects to the configured database and, unless disabled, verifies
// the mutex table exists. A missing table is a fatal configuration error,
// not a retryable one.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := gspanner.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("spanner: connect %s: %w", cfg.Database, err)
	}
	s := &Store{client: client, table: cfg.Table}
	if !cfg.SkipValidation {
		if err := s.validateTable(ctx); err != nil {
			client.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) validateTable(ctx context.Context) error {
	stmt := gspanner.Statement{
		SQL:    "SELECT t.table_name FROM information_schema.tables AS t WHERE t.table_schema = '' AND t.table_name = @table",
		Params: map[string]interface{}{"table": s.table},
	}
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil {
		if err == iterator.Done {
			return fmt.Errorf("spanner: table %q does not exist in %s", s.table, s.client.DatabaseName())
		}
		return fmt.Errorf("spanner: validate table %q: %w", s.table, classify(err))
	}
	return nil
}

// ReadRecord returns the current row from a single-use read-only snapshot.
func (s *Store) ReadRecord(ctx context.Context, mutexUUID string) (*store.Record, error) {
	row, err := s.client.Single().ReadRow(ctx, s.table, gspanner.Key{mutexUUID}, recordColumns)
	if err != nil {
		if gspanner.ErrCode(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return decodeRow(row)
}

// Update runs fn inside a Spanner read-write transaction and returns the
// commit timestamp. Spanner serialises conflicting transactions on the row
// and retries internal aborts before surfacing them.
func (s *Store) Update(ctx context.Context, mutexUUID string, fn func(ctx context.Context, txn store.Txn) error) (time.Time, error) {
	ts, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, rwt *gspanner.ReadWriteTransaction) error {
		return fn(ctx, &rwTxn{store: s, txn: rwt, key: mutexUUID})
	})
	if err != nil {
		return time.Time{}, classify(err)
	}
	return ts.UTC(), nil
}

// Close releases the Spanner client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

type rwTxn struct {
	store *Store
	txn   *gspanner.ReadWriteTransaction
	key   string
}

func (t *rwTxn) Current(ctx context.Context) (*store.Record, error) {
	row, err := t.txn.ReadRow(ctx, t.store.table, gspanner.Key{t.key}, recordColumns)
	if err != nil {
		if gspanner.ErrCode(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return decodeRow(row)
}

func (t *rwTxn) Upsert(rec store.Record) error {
	return t.txn.BufferWrite([]*gspanner.Mutation{
		gspanner.InsertOrUpdateMap(t.store.table, map[string]interface{}{
			"mutex_uuid":                 rec.MutexUUID,
			"display_name":               rec.DisplayName,
			"status":                     string(rec.Status),
			"update_time":                gspanner.CommitTimestamp,
			"update_client_uuid":         rec.ClientUUID,
			"update_client_display_name": rec.ClientDisplayName,
		}),
	})
}

func decodeRow(row *gspanner.Row) (*store.Record, error) {
	var (
		rec           store.Record
		displayName   gspanner.NullString
		status        gspanner.NullString
		clientUUID    gspanner.NullString
		clientDisplay gspanner.NullString
	)
	if err := row.Columns(&rec.MutexUUID, &displayName, &status, &rec.UpdateTime, &clientUUID, &clientDisplay); err != nil {
		return nil, fmt.Errorf("spanner: decode row: %w", err)
	}
	rec.DisplayName = displayName.StringVal
	rec.Status = store.ParseStatus(status.StringVal)
	rec.ClientUUID = clientUUID.StringVal
	rec.ClientDisplayName = clientDisplay.StringVal
	rec.UpdateTime = rec.UpdateTime.UTC()
	return &rec, nil
}

// classify maps Spanner error codes onto the protocol's error taxonomy:
// aborted/unavailable style codes are transient, everything else is fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch gspanner.ErrCode(err) {
	case codes.Aborted, codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return store.NewTransientError(err)
	}
	return err
}

// DDL returns the CREATE TABLE statement for the mutex table. The
// update_time column must allow commit timestamps; the store fills it on
// every write.
func DDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
  mutex_uuid STRING(36) NOT NULL,
  display_name STRING(MAX),
  status STRING(16),
  update_time TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp = true),
  update_client_uuid STRING(36),
  update_client_display_name STRING(MAX),
) PRIMARY KEY (mutex_uuid)`, table)
}
