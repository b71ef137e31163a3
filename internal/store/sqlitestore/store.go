// Package sqlitestore is the embedded economy store used for local runs and tests.
// SQLite has no row locks; the store keeps a single connection so transactions
// serialize, which is strictly stronger than the row locking the Postgres store uses.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"guildbank/internal/economy"
	"guildbank/internal/store"
)

// sqliteTimestamp matches CURRENT_TIMESTAMP, which SQLite stores as UTC text.
const sqliteTimestamp = "2006-01-02 15:04:05"

type Store struct {
	db *sql.DB
}

var _ economy.Store = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range append(pragmas, schema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WithTx(ctx context.Context, fn func(economy.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (s *Store) Snapshot(ctx context.Context, fn func(economy.Reader) error) error {
	return classify(fn(&queries{db: s.db}))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return economy.ErrNoRows
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", economy.ErrTxConflict, err)
		}
	}
	return err
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return economy.ErrNoRows
	}
	return err
}

func (q *queries) Member(ctx context.Context, userID int64) (economy.Member, error) {
	var m economy.Member
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, gang, leader, leadership
		FROM gang_members
		WHERE user_id = ?
	`, userID).Scan(&m.UserID, &m.Gang, &m.Leader, &m.Leadership)
	return m, noRows(err)
}

func (q *queries) Points(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := q.db.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, userID).Scan(&points)
	return points, noRows(err)
}

func (q *queries) Control(ctx context.Context, gang string) (int64, error) {
	var control int64
	err := q.db.QueryRowContext(ctx, `SELECT control FROM gangs WHERE name = ?`, gang).Scan(&control)
	return control, noRows(err)
}

func (q *queries) ItemByName(ctx context.Context, scope economy.Scope, name string) (economy.Item, error) {
	t := store.TablesFor(scope)
	it := economy.Item{Scope: scope}
	var benefit string
	err := q.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, cost, value, benefit, description
		FROM %s
		WHERE name = ?
	`, t.Items), name).Scan(&it.ID, &it.Name, &it.Cost, &it.Value, &benefit, &it.Description)
	it.Benefit = economy.Benefit(benefit)
	return it, noRows(err)
}

func (q *queries) Items(ctx context.Context, scope economy.Scope) ([]economy.Item, error) {
	t := store.TablesFor(scope)
	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, cost, value, benefit, description
		FROM %s
		ORDER BY value, name
	`, t.Items))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]economy.Item, 0)
	for rows.Next() {
		it := economy.Item{Scope: scope}
		var benefit string
		if err := rows.Scan(&it.ID, &it.Name, &it.Cost, &it.Value, &benefit, &it.Description); err != nil {
			return nil, err
		}
		it.Benefit = economy.Benefit(benefit)
		out = append(out, it)
	}
	return out, rows.Err()
}

func holdingQuery(t store.Tables) string {
	return fmt.Sprintf(`
		SELECT i.id, i.name, i.cost, i.value, i.benefit, i.description, inv.quantity
		FROM %s inv
		JOIN %s i ON i.id = inv.item
		WHERE inv.%s = ?`, t.Inventory, t.Items, t.OwnerCol)
}

func (q *queries) Holding(ctx context.Context, owner economy.Owner, itemName string) (economy.Holding, error) {
	t := store.TablesFor(owner.Scope)
	h := economy.Holding{Item: economy.Item{Scope: owner.Scope}}
	var benefit string
	err := q.db.QueryRowContext(ctx, holdingQuery(t)+` AND i.name = ?`, store.OwnerKey(owner), itemName).
		Scan(&h.ID, &h.Name, &h.Cost, &h.Value, &benefit, &h.Description, &h.Quantity)
	h.Benefit = economy.Benefit(benefit)
	return h, noRows(err)
}

func (q *queries) Holdings(ctx context.Context, owner economy.Owner) ([]economy.Holding, error) {
	t := store.TablesFor(owner.Scope)
	rows, err := q.db.QueryContext(ctx, holdingQuery(t)+` ORDER BY i.value, i.name`, store.OwnerKey(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]economy.Holding, 0)
	for rows.Next() {
		h := economy.Holding{Item: economy.Item{Scope: owner.Scope}}
		var benefit string
		if err := rows.Scan(&h.ID, &h.Name, &h.Cost, &h.Value, &benefit, &h.Description, &h.Quantity); err != nil {
			return nil, err
		}
		h.Benefit = economy.Benefit(benefit)
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanPool(row interface{ Scan(...any) error }) (economy.Pool, error) {
	var p economy.Pool
	var roles string
	if err := row.Scan(&p.Name, &p.Cap, &p.Reward, &roles, &p.Level, &p.Current, &p.Start); err != nil {
		return p, noRows(err)
	}
	if err := json.Unmarshal([]byte(roles), &p.RequiredRoles); err != nil {
		return p, fmt.Errorf("decode required_roles for pool %q: %w", p.Name, err)
	}
	if p.RequiredRoles == nil {
		p.RequiredRoles = []int64{}
	}
	return p, nil
}

func (q *queries) Pool(ctx context.Context, name string) (economy.Pool, error) {
	return scanPool(q.db.QueryRowContext(ctx, `
		SELECT pool, cap, reward, required_roles, level, current, start
		FROM pools
		WHERE pool = ?
	`, name))
}

func (q *queries) Pools(ctx context.Context) ([]economy.Pool, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT pool, cap, reward, required_roles, level, current, start
		FROM pools
		ORDER BY pool
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]economy.Pool, 0)
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) ClaimIdempotency(ctx context.Context, userID int64, key, action string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, key, action)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (q *queries) PruneIdempotency(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE created_at < ?
	`, before.UTC().Format(sqliteTimestamp))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *queries) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, points)
		VALUES (?, 0)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// The Lock* reads need no extra clause: the single connection already excludes
// every other transaction.

func (q *queries) LockPoints(ctx context.Context, userID int64) (int64, error) {
	return q.Points(ctx, userID)
}

func (q *queries) SetPoints(ctx context.Context, userID, points int64) error {
	return expectOne(q.db.ExecContext(ctx, `UPDATE users SET points = ? WHERE id = ?`, points, userID))
}

func (q *queries) LockControl(ctx context.Context, gang string) (int64, error) {
	return q.Control(ctx, gang)
}

func (q *queries) SetControl(ctx context.Context, gang string, control int64) error {
	return expectOne(q.db.ExecContext(ctx, `UPDATE gangs SET control = ? WHERE name = ?`, control, gang))
}

func (q *queries) LockHolding(ctx context.Context, owner economy.Owner, itemName string) (economy.Holding, error) {
	return q.Holding(ctx, owner, itemName)
}

func (q *queries) AddHolding(ctx context.Context, owner economy.Owner, itemID, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("add holding: delta must be > 0, got %d", delta)
	}
	t := store.TablesFor(owner.Scope)
	var qty int64
	err := q.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, item, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT (%s, item) DO UPDATE SET quantity = quantity + excluded.quantity
		RETURNING quantity
	`, t.Inventory, t.OwnerCol, t.OwnerCol), store.OwnerKey(owner), itemID, delta).Scan(&qty)
	return qty, err
}

func (q *queries) RemoveHolding(ctx context.Context, owner economy.Owner, itemID int64) (int64, error) {
	t := store.TablesFor(owner.Scope)
	key := store.OwnerKey(owner)
	var qty int64
	if err := q.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT quantity FROM %s WHERE %s = ? AND item = ?
	`, t.Inventory, t.OwnerCol), key, itemID).Scan(&qty); err != nil {
		return 0, noRows(err)
	}
	if qty <= 1 {
		_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE %s = ? AND item = ?
		`, t.Inventory, t.OwnerCol), key, itemID)
		return 0, err
	}
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET quantity = ? WHERE %s = ? AND item = ?
	`, t.Inventory, t.OwnerCol), qty-1, key, itemID)
	return qty - 1, err
}

const territoryColumns = `id, name, COALESCE(gang, ''), COALESCE(raider, ''), attack, defense`

func scanTerritory(row *sql.Row) (economy.Territory, error) {
	var t economy.Territory
	err := row.Scan(&t.ID, &t.Name, &t.Gang, &t.Raider, &t.Attack, &t.Defense)
	return t, noRows(err)
}

func (q *queries) LockDefendedTerritory(ctx context.Context, gang string) (economy.Territory, error) {
	return scanTerritory(q.db.QueryRowContext(ctx, `
		SELECT `+territoryColumns+`
		FROM territories
		WHERE gang = ? AND raider IS NOT NULL
		ORDER BY id
		LIMIT 1
	`, gang))
}

func (q *queries) LockRaidedTerritory(ctx context.Context, gang string) (economy.Territory, error) {
	return scanTerritory(q.db.QueryRowContext(ctx, `
		SELECT `+territoryColumns+`
		FROM territories
		WHERE raider = ?
		ORDER BY id
		LIMIT 1
	`, gang))
}

func (q *queries) SetTerritoryStrength(ctx context.Context, id, attack, defense int64) error {
	return expectOne(q.db.ExecContext(ctx, `
		UPDATE territories SET attack = ?, defense = ? WHERE id = ?
	`, attack, defense, id))
}

func (q *queries) UpsertItem(ctx context.Context, scope economy.Scope, def economy.ItemDef) error {
	t := store.TablesFor(scope)
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, cost, value, benefit, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			cost = excluded.cost,
			value = excluded.value,
			benefit = excluded.benefit,
			description = excluded.description
	`, t.Items), def.Name, def.Cost, def.Value, string(def.Benefit), def.Description)
	return err
}

func (q *queries) LockPool(ctx context.Context, name string) (economy.Pool, error) {
	return q.Pool(ctx, name)
}

func (q *queries) InsertPool(ctx context.Context, p economy.Pool) error {
	roles, err := encodeRoles(p.RequiredRoles)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pools (pool, cap, reward, required_roles, level, current, start)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.Cap, p.Reward, roles, p.Level, p.Current, p.Start)
	return err
}

func (q *queries) UpdatePool(ctx context.Context, name string, p economy.Pool) error {
	roles, err := encodeRoles(p.RequiredRoles)
	if err != nil {
		return err
	}
	return expectOne(q.db.ExecContext(ctx, `
		UPDATE pools
		SET pool = ?, cap = ?, reward = ?, required_roles = ?, level = ?, current = ?, start = ?
		WHERE pool = ?
	`, p.Name, p.Cap, p.Reward, roles, p.Level, p.Current, p.Start, name))
}

func (q *queries) DeletePool(ctx context.Context, name string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pools WHERE pool = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *queries) AppendEntry(ctx context.Context, e economy.Entry) error {
	kind, owner := store.EntryOwner(e.Owner)
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (owner_kind, owner, action, delta, balance)
		VALUES (?, ?, ?, ?, ?)
	`, kind, owner, e.Action, e.Delta, e.Balance)
	return err
}

func encodeRoles(roles []int64) (string, error) {
	if roles == nil {
		roles = []int64{}
	}
	raw, err := json.Marshal(roles)
	return string(raw), err
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrNoRows
	}
	return nil
}
