package interval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"qrbatch/internal/logging"
)

const defaultSQLitePoolSize = 4

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reservations (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	zone        TEXT    NOT NULL,
	range_start INTEGER NOT NULL,
	range_end   INTEGER NOT NULL,
	reserved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reservations_zone_start ON reservations (zone, range_start);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLiteStore keeps reservations in a SQLite table. Check and insert
// run inside one IMMEDIATE transaction, so the database write lock
// serializes writers across processes; the in-process mutex keeps local
// writers from queueing on busy_timeout.
type SQLiteStore struct {
	pool    *sqlitex.Pool
	logger  *logging.Logger
	path    string
	writeMu sync.Mutex
}

func OpenSQLiteStore(path string, poolSize int, logger *logging.Logger) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("interval store path required")
	}
	if poolSize <= 0 {
		poolSize = defaultSQLitePoolSize
	}
	pool, err := sqlitex.NewPool(trimmed, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", trimmed, err)
	}
	if logger != nil {
		logger.Info("sqlite interval store opened", map[string]string{
			"path": trimmed,
		})
	}
	return &SQLiteStore{pool: pool, logger: logger, path: trimmed}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range sqlitePragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

func (s *SQLiteStore) Load(ctx context.Context, zone string) ([]Reservation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, s.takeError(err)
	}
	defer s.pool.Put(conn)

	list := []Reservation{}
	err = sqlitex.Execute(conn,
		`SELECT zone, range_start, range_end, reserved_at FROM reservations WHERE zone = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{zone},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				list = append(list, scanReservation(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("load reservations for %s: %w", zone, err)
	}
	return list, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string][]Reservation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, s.takeError(err)
	}
	defer s.pool.Put(conn)

	zones := make(map[string][]Reservation)
	err = sqlitex.Execute(conn,
		`SELECT zone, range_start, range_end, reserved_at FROM reservations ORDER BY seq`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				reservation := scanReservation(stmt)
				zones[reservation.Zone] = append(zones[reservation.Zone], reservation)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	return zones, nil
}

func (s *SQLiteStore) CheckAndAppend(ctx context.Context, r Reservation) (conflict *Reservation, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, s.takeError(err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("begin reservation transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`SELECT zone, range_start, range_end, reserved_at FROM reservations
		 WHERE zone = ? AND range_start <= ? AND range_end >= ?
		 ORDER BY seq LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{r.Zone, r.Range.End, r.Range.Start},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found := scanReservation(stmt)
				conflict = &found
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("check reservation overlap: %w", err)
	}
	if conflict != nil {
		return conflict, nil
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO reservations (zone, range_start, range_end, reserved_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{r.Zone, r.Range.Start, r.Range.End, r.ReservedAt.UTC().UnixNano()},
		})
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return nil, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("close sqlite store %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) takeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreClosed, err)
}

func scanReservation(stmt *sqlite.Stmt) Reservation {
	return Reservation{
		Zone: stmt.ColumnText(0),
		Range: Range{
			Start: int(stmt.ColumnInt64(1)),
			End:   int(stmt.ColumnInt64(2)),
		},
		ReservedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}
}
