package storage

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

// MySQLAdapter is the authoritative store. Quantity mutations are
// version-checked conditional updates; the events belonging to a mutation
// commit in the same transaction.
type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the ledger tables. Location and project-day data belongs
// to the excluded project/calendar subsystem and is only read here.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			delivered_quantity INT NOT NULL DEFAULT 0,
			damaged_quantity INT NOT NULL DEFAULT 0,
			lost_quantity INT NOT NULL DEFAULT 0,
			available_quantity INT NOT NULL DEFAULT 0,
			location_id VARCHAR(64) NULL,
			version INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id VARCHAR(64) PRIMARY KEY,
			item_id VARCHAR(64) NOT NULL,
			project_day_id VARCHAR(64) NOT NULL,
			allocated_quantity INT NOT NULL,
			damaged_quantity INT NOT NULL DEFAULT 0,
			lost_quantity INT NOT NULL DEFAULT 0,
			returned_quantity INT NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			version INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_assignments_item (item_id, status)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id VARCHAR(64) PRIMARY KEY,
			item_id VARCHAR(64) NULL,
			assignment_id VARCHAR(64) NULL,
			kind VARCHAR(32) NOT NULL,
			quantity_delta INT NOT NULL,
			actor VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_events_item (item_id, created_at),
			INDEX idx_events_assignment (assignment_id, created_at)
		)`,
	}
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return wrapStorageErr("migrate", err)
		}
	}
	return nil
}

type itemRow struct {
	ID         string         `db:"id"`
	Kind       string         `db:"kind"`
	Delivered  int            `db:"delivered_quantity"`
	Damaged    int            `db:"damaged_quantity"`
	Lost       int            `db:"lost_quantity"`
	Available  int            `db:"available_quantity"`
	LocationID sql.NullString `db:"location_id"`
	Version    int            `db:"version"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r itemRow) toDomain() *domain.InventoryItem {
	return &domain.InventoryItem{
		ID:                r.ID,
		Kind:              domain.ItemKind(r.Kind),
		DeliveredQuantity: r.Delivered,
		DamagedQuantity:   r.Damaged,
		LostQuantity:      r.Lost,
		AvailableQuantity: r.Available,
		LocationID:        r.LocationID.String,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type assignmentRow struct {
	ID           string    `db:"id"`
	ItemID       string    `db:"item_id"`
	ProjectDayID string    `db:"project_day_id"`
	Allocated    int       `db:"allocated_quantity"`
	Damaged      int       `db:"damaged_quantity"`
	Lost         int       `db:"lost_quantity"`
	Returned     int       `db:"returned_quantity"`
	Status       string    `db:"status"`
	Version      int       `db:"version"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r assignmentRow) toDomain() *domain.ProjectItemAssignment {
	return &domain.ProjectItemAssignment{
		ID:                r.ID,
		ItemID:            r.ItemID,
		ProjectDayID:      r.ProjectDayID,
		AllocatedQuantity: r.Allocated,
		DamagedQuantity:   r.Damaged,
		LostQuantity:      r.Lost,
		ReturnedQuantity:  r.Returned,
		Status:            domain.AssignmentStatus(r.Status),
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type eventRow struct {
	ID           string         `db:"id"`
	ItemID       sql.NullString `db:"item_id"`
	AssignmentID sql.NullString `db:"assignment_id"`
	Kind         string         `db:"kind"`
	Delta        int            `db:"quantity_delta"`
	Actor        string         `db:"actor"`
	Description  string         `db:"description"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r eventRow) toDomain() domain.LedgerEvent {
	return domain.LedgerEvent{
		ID:            r.ID,
		ItemID:        r.ItemID.String,
		AssignmentID:  r.AssignmentID.String,
		Kind:          domain.EventKind(r.Kind),
		QuantityDelta: r.Delta,
		Actor:         r.Actor,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
	}
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, kind, delivered_quantity, damaged_quantity, lost_quantity,
			available_quantity, location_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.DeliveredQuantity, item.DamagedQuantity, item.LostQuantity,
		item.AvailableQuantity, nullable(item.LocationID), item.Version, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return wrapStorageErr("insert item", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}

	return wrapCommit(tx.Commit())
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row itemRow
	err := m.db.GetContext(ctx, &row, `
		SELECT id, kind, delivered_quantity, damaged_quantity, lost_quantity,
			available_quantity, location_id, version, created_at, updated_at
		FROM items WHERE id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrapStorageErr("query item", err)
	}
	return row.toDomain(), nil
}

func (m *MySQLAdapter) UpdateItemQuantities(ctx context.Context, item domain.InventoryItem, events []domain.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := updateItemTx(ctx, tx, item); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}

	return wrapCommit(tx.Commit())
}

func (m *MySQLAdapter) UpdateItemLocation(ctx context.Context, itemID, locationID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := m.db.ExecContext(ctx, `
		UPDATE items SET location_id = ?, updated_at = ? WHERE id = ?`,
		nullable(locationID), time.Now(), itemID,
	)
	if err != nil {
		return wrapStorageErr("update item location", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	return nil
}

func (m *MySQLAdapter) OpenAllocationTotal(ctx context.Context, itemID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	err := m.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(allocated_quantity - damaged_quantity - lost_quantity - returned_quantity), 0)
		FROM assignments WHERE item_id = ? AND status = ?`,
		itemID, string(domain.AssignmentStatusAllocated))
	if err != nil {
		return 0, wrapStorageErr("sum open allocations", err)
	}
	return total, nil
}

func (m *MySQLAdapter) GetAssignment(ctx context.Context, assignmentID string) (*domain.ProjectItemAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row assignmentRow
	err := m.db.GetContext(ctx, &row, `
		SELECT id, item_id, project_day_id, allocated_quantity, damaged_quantity,
			lost_quantity, returned_quantity, status, version, created_at, updated_at
		FROM assignments WHERE id = ?`, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrapStorageErr("query assignment", err)
	}
	return row.toDomain(), nil
}

func (m *MySQLAdapter) CreateAssignments(ctx context.Context, item domain.InventoryItem, assignments []domain.ProjectItemAssignment, events []domain.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := updateItemTx(ctx, tx, item); err != nil {
		return err
	}

	for _, a := range assignments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (id, item_id, project_day_id, allocated_quantity,
				damaged_quantity, lost_quantity, returned_quantity, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ItemID, a.ProjectDayID, a.AllocatedQuantity,
			a.DamagedQuantity, a.LostQuantity, a.ReturnedQuantity,
			string(a.Status), a.Version, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return wrapStorageErr("insert assignment", err)
		}
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}

	return wrapCommit(tx.Commit())
}

func (m *MySQLAdapter) UpdateAssignment(ctx context.Context, assignment domain.ProjectItemAssignment, item domain.InventoryItem, events []domain.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE assignments
		SET damaged_quantity = ?, lost_quantity = ?, returned_quantity = ?,
			status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		assignment.DamagedQuantity, assignment.LostQuantity, assignment.ReturnedQuantity,
		string(assignment.Status), assignment.UpdatedAt, assignment.ID, assignment.Version,
	)
	if err != nil {
		return wrapStorageErr("update assignment", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrConflict
	}

	if err := updateItemTx(ctx, tx, item); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}

	return wrapCommit(tx.Commit())
}

func (m *MySQLAdapter) Append(ctx context.Context, event domain.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := insertEvents(ctx, tx, []domain.LedgerEvent{event}); err != nil {
		return err
	}
	return wrapCommit(tx.Commit())
}

func (m *MySQLAdapter) ListByItem(ctx context.Context, itemID string) ([]domain.LedgerEvent, error) {
	return m.listEvents(ctx, `
		SELECT id, item_id, assignment_id, kind, quantity_delta, actor, description, created_at
		FROM ledger_events WHERE item_id = ? ORDER BY created_at ASC`, itemID)
}

func (m *MySQLAdapter) ListByAssignment(ctx context.Context, assignmentID string) ([]domain.LedgerEvent, error) {
	return m.listEvents(ctx, `
		SELECT id, item_id, assignment_id, kind, quantity_delta, actor, description, created_at
		FROM ledger_events WHERE assignment_id = ? ORDER BY created_at ASC`, assignmentID)
}

func (m *MySQLAdapter) listEvents(ctx context.Context, query string, arg string) ([]domain.LedgerEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []eventRow
	if err := m.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, wrapStorageErr("query events", err)
	}

	events := make([]domain.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toDomain())
	}
	return events, nil
}

// updateItemTx applies the quantity counters with a version check inside an
// open transaction.
func updateItemTx(ctx context.Context, tx *sqlx.Tx, item domain.InventoryItem) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET delivered_quantity = ?, damaged_quantity = ?, lost_quantity = ?,
			available_quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		item.DeliveredQuantity, item.DamagedQuantity, item.LostQuantity,
		item.AvailableQuantity, item.UpdatedAt, item.ID, item.Version,
	)
	if err != nil {
		return wrapStorageErr("update item", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrConflict
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, events []domain.LedgerEvent) error {
	for _, e := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_events (id, item_id, assignment_id, kind, quantity_delta, actor, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, nullable(e.ItemID), nullable(e.AssignmentID), string(e.Kind),
			e.QuantityDelta, e.Actor, e.Description, e.CreatedAt,
		)
		if err != nil {
			return wrapStorageErr("insert event", err)
		}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func wrapCommit(err error) error {
	if err != nil {
		return wrapStorageErr("commit tx", err)
	}
	return nil
}

func wrapStorageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, domain.ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
