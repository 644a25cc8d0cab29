package directory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/port"
)

const queryTimeout = 3 * time.Second

// MySQLDirectory reads location and project-day records owned by the
// excluded project/calendar subsystem. Read-only from this side.
type MySQLDirectory struct {
	db *sqlx.DB
}

func NewMySQLDirectory(db *sqlx.DB) *MySQLDirectory {
	return &MySQLDirectory{db: db}
}

func (d *MySQLDirectory) ResolveLocation(ctx context.Context, locationID string) (*port.LocationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record port.LocationRecord
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name FROM locations WHERE id = ?`, locationID,
	).Scan(&record.ID, &record.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDirectoryErr("query location", err)
	}
	return &record, nil
}

func (d *MySQLDirectory) ListDaysForProject(ctx context.Context, projectID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var dayIDs []string
	err := d.db.SelectContext(ctx, &dayIDs,
		`SELECT id FROM project_days WHERE project_id = ? ORDER BY calendar_date ASC`, projectID)
	if err != nil {
		return nil, wrapDirectoryErr("query project days", err)
	}
	return dayIDs, nil
}

func wrapDirectoryErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, domain.ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
