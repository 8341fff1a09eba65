package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shoplist-sync-server/internal/domain"
)

var (
	ErrRecordNotFound = errors.New("list record not found")
	ErrOwnerNotFound  = errors.New("list owner not found")
)

type ListRepository interface {
	OwnerLabels(ctx context.Context, ownerIDs []string) (map[string]string, error)
	LoadState(ctx context.Context, ownerID string) (domain.ListState, error)
	RenameList(ctx context.Context, ownerID, label string) error
	WithTx(ctx context.Context, fn func(tx ListTx) error) error
}

// ListTx is the write surface used while a batch runs. Every call happens
// inside one database transaction.
type ListTx interface {
	LockOwner(ctx context.Context, ownerID string) error
	OrderBounds(ctx context.Context, ownerID string) (min, max int64, nonEmpty bool, err error)
	FindRecord(ctx context.Context, ownerID, key string) (*domain.ListRecord, error)
	InsertRecord(ctx context.Context, ownerID, key string, rec *domain.ListRecord) error
	AppendEntry(ctx context.Context, ownerID, key string, entry domain.QuantityEntry) error
	ReplaceEntries(ctx context.Context, ownerID, key string, entries []domain.QuantityEntry) error
	DeleteRecord(ctx context.Context, ownerID, key string) (bool, error)
	ClearOwner(ctx context.Context, ownerID string) (int64, error)
	Orders(ctx context.Context, ownerID string) (map[string]int64, error)
	SetOrder(ctx context.Context, ownerID, key string, order int64) error
	SetCrossedOff(ctx context.Context, ownerID, key string, at *time.Time) (bool, error)
}

type listRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewListRepository(db *sql.DB, dialect Dialect) ListRepository {
	return &listRepository{db: db, dialect: dialect}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *listRepository) OwnerLabels(ctx context.Context, ownerIDs []string) (map[string]string, error) {
	labels := make(map[string]string, len(ownerIDs))
	for _, id := range ownerIDs {
		var label string
		err := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT label FROM list_owners WHERE owner_id=?`), id).Scan(&label)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load list label: %w", err)
		}
		labels[id] = label
	}
	return labels, nil
}

func (r *listRepository) LoadState(ctx context.Context, ownerID string) (domain.ListState, error) {
	return loadState(ctx, r.db, r.dialect, ownerID)
}

func (r *listRepository) RenameList(ctx context.Context, ownerID, label string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO list_owners (owner_id, label, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET label = excluded.label, updated_at = excluded.updated_at
	`), ownerID, label, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

func (r *listRepository) WithTx(ctx context.Context, fn func(tx ListTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&listTx{q: sqlTx, dialect: r.dialect}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func loadState(ctx context.Context, q queryer, d Dialect, ownerID string) (domain.ListState, error) {
	state := domain.ListState{}

	rows, err := q.QueryContext(ctx, d.rebind(`
		SELECT label_key, label, sort_order, crossed_off_at
		FROM list_records WHERE owner_id=?
	`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query list records: %w", err)
	}
	for rows.Next() {
		var (
			key     string
			rec     domain.ListRecord
			crossed sql.NullInt64
		)
		if err := rows.Scan(&key, &rec.Label, &rec.Order, &crossed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan list record: %w", err)
		}
		rec.CrossedOffAt = fromMillis(crossed)
		state[key] = &rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list records: %w", err)
	}

	entryRows, err := q.QueryContext(ctx, d.rebind(`
		SELECT label_key, id, quantity_text, amount_value, measure_text, source_recipe_id, source_recipe_title
		FROM list_entries WHERE owner_id=? ORDER BY label_key, seq
	`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query list entries: %w", err)
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var key string
		entry, err := scanEntry(entryRows, &key)
		if err != nil {
			return nil, err
		}
		if rec, ok := state[key]; ok {
			rec.Entries = append(rec.Entries, entry)
		}
	}
	if err := entryRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list entries: %w", err)
	}

	for key, rec := range state {
		if len(rec.Entries) == 0 {
			delete(state, key)
		}
	}
	return state, nil
}

func scanEntry(rows *sql.Rows, key *string) (domain.QuantityEntry, error) {
	var (
		e      domain.QuantityEntry
		amount sql.NullFloat64
	)
	if err := rows.Scan(key, &e.ID, &e.QuantityText, &amount, &e.MeasureText, &e.SourceRecipeID, &e.SourceRecipeTitle); err != nil {
		return e, fmt.Errorf("failed to scan list entry: %w", err)
	}
	if amount.Valid {
		v := amount.Float64
		e.AmountValue = &v
	}
	return e, nil
}

type listTx struct {
	q       queryer
	dialect Dialect
}

func (t *listTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(ctx, t.dialect.rebind(query), args...)
}

// LockOwner makes sure the owner row exists and, on postgres, holds its row
// lock until commit so concurrent batches for one owner serialize. SQLite
// transactions already hold the database write lock.
func (t *listTx) LockOwner(ctx context.Context, ownerID string) error {
	if _, err := t.exec(ctx, `
		INSERT INTO list_owners (owner_id, label, updated_at) VALUES (?, '', ?)
		ON CONFLICT (owner_id) DO UPDATE SET updated_at = excluded.updated_at
	`, ownerID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert list owner: %w", err)
	}
	if t.dialect != Postgres {
		return nil
	}
	var id string
	err := t.q.QueryRowContext(ctx, `SELECT owner_id FROM list_owners WHERE owner_id=$1 FOR UPDATE`, ownerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock list owner: %w", err)
	}
	return nil
}

func (t *listTx) OrderBounds(ctx context.Context, ownerID string) (int64, int64, bool, error) {
	var min, max sql.NullInt64
	err := t.q.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT MIN(sort_order), MAX(sort_order) FROM list_records WHERE owner_id=?
	`), ownerID).Scan(&min, &max)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to read order bounds: %w", err)
	}
	if !min.Valid {
		return 0, 0, false, nil
	}
	return min.Int64, max.Int64, true, nil
}

func (t *listTx) FindRecord(ctx context.Context, ownerID, key string) (*domain.ListRecord, error) {
	var (
		rec     domain.ListRecord
		crossed sql.NullInt64
	)
	err := t.q.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT label, sort_order, crossed_off_at FROM list_records WHERE owner_id=? AND label_key=?
	`), ownerID, key).Scan(&rec.Label, &rec.Order, &crossed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find list record: %w", err)
	}
	rec.CrossedOffAt = fromMillis(crossed)

	rows, err := t.q.QueryContext(ctx, t.dialect.rebind(`
		SELECT label_key, id, quantity_text, amount_value, measure_text, source_recipe_id, source_recipe_title
		FROM list_entries WHERE owner_id=? AND label_key=? ORDER BY seq
	`), ownerID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query list entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		entry, err := scanEntry(rows, &k)
		if err != nil {
			return nil, err
		}
		rec.Entries = append(rec.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list entries: %w", err)
	}
	return &rec, nil
}

func (t *listTx) InsertRecord(ctx context.Context, ownerID, key string, rec *domain.ListRecord) error {
	if _, err := t.exec(ctx, `
		INSERT INTO list_records (owner_id, label_key, label, sort_order, crossed_off_at) VALUES (?, ?, ?, ?, ?)
	`, ownerID, key, rec.Label, rec.Order, toMillis(rec.CrossedOffAt)); err != nil {
		return fmt.Errorf("failed to insert list record: %w", err)
	}
	return t.insertEntries(ctx, ownerID, key, 0, rec.Entries)
}

func (t *listTx) insertEntries(ctx context.Context, ownerID, key string, firstSeq int64, entries []domain.QuantityEntry) error {
	for i, e := range entries {
		var amount sql.NullFloat64
		if e.AmountValue != nil {
			amount = sql.NullFloat64{Float64: *e.AmountValue, Valid: true}
		}
		if _, err := t.exec(ctx, `
			INSERT INTO list_entries (id, owner_id, label_key, seq, quantity_text, amount_value, measure_text, source_recipe_id, source_recipe_title)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, ownerID, key, firstSeq+int64(i), e.QuantityText, amount, e.MeasureText, e.SourceRecipeID, e.SourceRecipeTitle); err != nil {
			return fmt.Errorf("failed to insert list entry: %w", err)
		}
	}
	return nil
}

func (t *listTx) AppendEntry(ctx context.Context, ownerID, key string, entry domain.QuantityEntry) error {
	var next int64
	err := t.q.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM list_entries WHERE owner_id=? AND label_key=?
	`), ownerID, key).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read entry sequence: %w", err)
	}
	return t.insertEntries(ctx, ownerID, key, next, []domain.QuantityEntry{entry})
}

func (t *listTx) ReplaceEntries(ctx context.Context, ownerID, key string, entries []domain.QuantityEntry) error {
	if _, err := t.exec(ctx, `DELETE FROM list_entries WHERE owner_id=? AND label_key=?`, ownerID, key); err != nil {
		return fmt.Errorf("failed to delete list entries: %w", err)
	}
	return t.insertEntries(ctx, ownerID, key, 0, entries)
}

func (t *listTx) DeleteRecord(ctx context.Context, ownerID, key string) (bool, error) {
	if _, err := t.exec(ctx, `DELETE FROM list_entries WHERE owner_id=? AND label_key=?`, ownerID, key); err != nil {
		return false, fmt.Errorf("failed to delete list entries: %w", err)
	}
	res, err := t.exec(ctx, `DELETE FROM list_records WHERE owner_id=? AND label_key=?`, ownerID, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete list record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *listTx) ClearOwner(ctx context.Context, ownerID string) (int64, error) {
	if _, err := t.exec(ctx, `DELETE FROM list_entries WHERE owner_id=?`, ownerID); err != nil {
		return 0, fmt.Errorf("failed to clear list entries: %w", err)
	}
	res, err := t.exec(ctx, `DELETE FROM list_records WHERE owner_id=?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear list records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *listTx) Orders(ctx context.Context, ownerID string) (map[string]int64, error) {
	rows, err := t.q.QueryContext(ctx, t.dialect.rebind(`
		SELECT label_key, sort_order FROM list_records WHERE owner_id=?
	`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record orders: %w", err)
	}
	defer rows.Close()

	orders := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			order int64
		)
		if err := rows.Scan(&key, &order); err != nil {
			return nil, fmt.Errorf("failed to scan record order: %w", err)
		}
		orders[key] = order
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record orders: %w", err)
	}
	return orders, nil
}

func (t *listTx) SetOrder(ctx context.Context, ownerID, key string, order int64) error {
	if _, err := t.exec(ctx, `UPDATE list_records SET sort_order=? WHERE owner_id=? AND label_key=?`, order, ownerID, key); err != nil {
		return fmt.Errorf("failed to update record order: %w", err)
	}
	return nil
}

func (t *listTx) SetCrossedOff(ctx context.Context, ownerID, key string, at *time.Time) (bool, error) {
	res, err := t.exec(ctx, `UPDATE list_records SET crossed_off_at=? WHERE owner_id=? AND label_key=?`, toMillis(at), ownerID, key)
	if err != nil {
		return false, fmt.Errorf("failed to update cross-off: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
