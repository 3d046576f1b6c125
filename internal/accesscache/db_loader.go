package accesscache

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/user"
)

// DBLoader loads UserStorageAccess rows from the Nextcloud database via a
// single join between the mounts and filecache tables.
type DBLoader struct {
	db      *sql.DB
	prefix  string
	metrics *metrics.Metrics
}

// NewDBLoader opens a connection pool against connectURL (a standard
// postgres:// DSN) and returns a Loader that queries tables named
// "<prefix>mounts" and "<prefix>filecache".
func NewDBLoader(connectURL, prefix string, m *metrics.Metrics) (*DBLoader, error) {
	db, err := sql.Open("postgres", connectURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DBLoader{db: db, prefix: prefix, metrics: m}, nil
}

// Close releases the underlying connection pool.
func (l *DBLoader) Close() error {
	return l.db.Close()
}

// Load runs the mounts/filecache join for storage and increments the
// process-wide mapping-query counter on success.
func (l *DBLoader) Load(ctx context.Context, storage uint32) ([]UserStorageAccess, error) {
	query := fmt.Sprintf(
		`SELECT user_id, path FROM %smounts INNER JOIN %sfilecache ON root_id = fileid WHERE storage_id = $1`,
		l.prefix, l.prefix,
	)

	rows, err := l.db.QueryContext(ctx, query, storage)
	if err != nil {
		return nil, fmt.Errorf("query storage mapping for storage %d: %w", storage, err)
	}
	defer rows.Close()

	var access []UserStorageAccess
	for rows.Next() {
		var userID, root string
		if err := rows.Scan(&userID, &root); err != nil {
			return nil, fmt.Errorf("scan storage mapping row: %w", err)
		}
		access = append(access, UserStorageAccess{User: user.ID(userID), Root: root})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage mapping rows: %w", err)
	}

	if l.metrics != nil {
		l.metrics.MappingQueriesTotal.Inc()
	}
	return access, nil
}
