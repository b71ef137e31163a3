// Package pgstore implements the economy store on Postgres. Writers run at read
// committed and take explicit row locks with SELECT ... FOR UPDATE.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"guildbank/internal/economy"
	"guildbank/internal/store"
)

type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

var _ economy.Store = (*Store)(nil)

// New wraps pool. A positive lockTimeout bounds how long a transaction waits for a row
// lock before failing with economy.ErrTxConflict.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{db: pool, lockTimeout: lockTimeout}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

func (s *Store) WithTx(ctx context.Context, fn func(economy.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return classify(err)
		}
	}
	if err := fn(&queries{db: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func (s *Store) Snapshot(ctx context.Context, fn func(economy.Reader) error) error {
	return classify(fn(&queries{db: s.db}))
}

// classify maps serialization failures, deadlocks, lock timeouts and statement
// cancellation to economy.ErrTxConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return economy.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %s", economy.ErrTxConflict, pgErr.Message)
		}
	}
	return err
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return economy.ErrNoRows
	}
	return err
}

func (q *queries) Member(ctx context.Context, userID int64) (economy.Member, error) {
	var m economy.Member
	err := q.db.QueryRow(ctx, `
		SELECT user_id, gang, leader, leadership
		FROM gang_members
		WHERE user_id = $1
	`, userID).Scan(&m.UserID, &m.Gang, &m.Leader, &m.Leadership)
	return m, noRows(err)
}

func (q *queries) Points(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := q.db.QueryRow(ctx, `SELECT points FROM users WHERE id = $1`, userID).Scan(&points)
	return points, noRows(err)
}

func (q *queries) Control(ctx context.Context, gang string) (int64, error) {
	var control int64
	err := q.db.QueryRow(ctx, `SELECT control FROM gangs WHERE name = $1`, gang).Scan(&control)
	return control, noRows(err)
}

func (q *queries) ItemByName(ctx context.Context, scope economy.Scope, name string) (economy.Item, error) {
	t := store.TablesFor(scope)
	it := economy.Item{Scope: scope}
	err := q.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, name, cost, value, benefit, description
		FROM %s
		WHERE name = $1
	`, t.Items), name).Scan(&it.ID, &it.Name, &it.Cost, &it.Value, &it.Benefit, &it.Description)
	return it, noRows(err)
}

func (q *queries) Items(ctx context.Context, scope economy.Scope) ([]economy.Item, error) {
	t := store.TablesFor(scope)
	rows, err := q.db.Query(ctx, fmt.Sprintf(`
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
		if err := rows.Scan(&it.ID, &it.Name, &it.Cost, &it.Value, &it.Benefit, &it.Description); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func holdingQuery(t store.Tables) string {
	return fmt.Sprintf(`
		SELECT i.id, i.name, i.cost, i.value, i.benefit, i.description, inv.quantity
		FROM %s inv
		JOIN %s i ON i.id = inv.item
		WHERE inv.%s = $1`, t.Inventory, t.Items, t.OwnerCol)
}

func (q *queries) holding(ctx context.Context, owner economy.Owner, itemName, suffix string) (economy.Holding, error) {
	t := store.TablesFor(owner.Scope)
	h := economy.Holding{Item: economy.Item{Scope: owner.Scope}}
	err := q.db.QueryRow(ctx, holdingQuery(t)+` AND i.name = $2`+suffix, store.OwnerKey(owner), itemName).
		Scan(&h.ID, &h.Name, &h.Cost, &h.Value, &h.Benefit, &h.Description, &h.Quantity)
	return h, noRows(err)
}

func (q *queries) Holding(ctx context.Context, owner economy.Owner, itemName string) (economy.Holding, error) {
	return q.holding(ctx, owner, itemName, "")
}

func (q *queries) Holdings(ctx context.Context, owner economy.Owner) ([]economy.Holding, error) {
	t := store.TablesFor(owner.Scope)
	rows, err := q.db.Query(ctx, holdingQuery(t)+` ORDER BY i.value, i.name`, store.OwnerKey(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]economy.Holding, 0)
	for rows.Next() {
		h := economy.Holding{Item: economy.Item{Scope: owner.Scope}}
		if err := rows.Scan(&h.ID, &h.Name, &h.Cost, &h.Value, &h.Benefit, &h.Description, &h.Quantity); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const poolColumns = `pool, cap, reward, required_roles, level, current, start`

func scanPool(row pgx.Row) (economy.Pool, error) {
	var p economy.Pool
	err := row.Scan(&p.Name, &p.Cap, &p.Reward, &p.RequiredRoles, &p.Level, &p.Current, &p.Start)
	if p.RequiredRoles == nil {
		p.RequiredRoles = []int64{}
	}
	return p, noRows(err)
}

func (q *queries) Pool(ctx context.Context, name string) (economy.Pool, error) {
	return scanPool(q.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool = $1`, name))
}

func (q *queries) Pools(ctx context.Context) ([]economy.Pool, error) {
	rows, err := q.db.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY pool`)
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
	tag, err := q.db.Exec(ctx, `
		INSERT INTO idempotency_keys (user_id, key, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) PruneIdempotency(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queries) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO users (id, points)
		VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) LockPoints(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := q.db.QueryRow(ctx, `SELECT points FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&points)
	return points, noRows(err)
}

func (q *queries) SetPoints(ctx context.Context, userID, points int64) error {
	return expectOne(q.db.Exec(ctx, `UPDATE users SET points = $2 WHERE id = $1`, userID, points))
}

func (q *queries) LockControl(ctx context.Context, gang string) (int64, error) {
	var control int64
	err := q.db.QueryRow(ctx, `SELECT control FROM gangs WHERE name = $1 FOR UPDATE`, gang).Scan(&control)
	return control, noRows(err)
}

func (q *queries) SetControl(ctx context.Context, gang string, control int64) error {
	return expectOne(q.db.Exec(ctx, `UPDATE gangs SET control = $2 WHERE name = $1`, gang, control))
}

func (q *queries) LockHolding(ctx context.Context, owner economy.Owner, itemName string) (economy.Holding, error) {
	return q.holding(ctx, owner, itemName, ` FOR UPDATE OF inv`)
}

func (q *queries) AddHolding(ctx context.Context, owner economy.Owner, itemID, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("add holding: delta must be > 0, got %d", delta)
	}
	t := store.TablesFor(owner.Scope)
	var qty int64
	err := q.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s AS inv (%[2]s, item, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (%[2]s, item) DO UPDATE SET quantity = inv.quantity + EXCLUDED.quantity
		RETURNING quantity
	`, t.Inventory, t.OwnerCol), store.OwnerKey(owner), itemID, delta).Scan(&qty)
	return qty, err
}

func (q *queries) RemoveHolding(ctx context.Context, owner economy.Owner, itemID int64) (int64, error) {
	t := store.TablesFor(owner.Scope)
	key := store.OwnerKey(owner)
	var qty int64
	if err := q.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT quantity FROM %s WHERE %s = $1 AND item = $2 FOR UPDATE
	`, t.Inventory, t.OwnerCol), key, itemID).Scan(&qty); err != nil {
		return 0, noRows(err)
	}
	if qty <= 1 {
		_, err := q.db.Exec(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE %s = $1 AND item = $2
		`, t.Inventory, t.OwnerCol), key, itemID)
		return 0, err
	}
	err := q.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET quantity = quantity - 1 WHERE %s = $1 AND item = $2
		RETURNING quantity
	`, t.Inventory, t.OwnerCol), key, itemID).Scan(&qty)
	return qty, err
}

const territoryColumns = `id, name, COALESCE(gang, ''), COALESCE(raider, ''), attack, defense`

func scanTerritory(row pgx.Row) (economy.Territory, error) {
	var t economy.Territory
	err := row.Scan(&t.ID, &t.Name, &t.Gang, &t.Raider, &t.Attack, &t.Defense)
	return t, noRows(err)
}

func (q *queries) LockDefendedTerritory(ctx context.Context, gang string) (economy.Territory, error) {
	return scanTerritory(q.db.QueryRow(ctx, `
		SELECT `+territoryColumns+`
		FROM territories
		WHERE gang = $1 AND raider IS NOT NULL
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, gang))
}

func (q *queries) LockRaidedTerritory(ctx context.Context, gang string) (economy.Territory, error) {
	return scanTerritory(q.db.QueryRow(ctx, `
		SELECT `+territoryColumns+`
		FROM territories
		WHERE raider = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, gang))
}

func (q *queries) SetTerritoryStrength(ctx context.Context, id, attack, defense int64) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE territories SET attack = $2, defense = $3 WHERE id = $1
	`, id, attack, defense))
}

func (q *queries) UpsertItem(ctx context.Context, scope economy.Scope, def economy.ItemDef) error {
	t := store.TablesFor(scope)
	_, err := q.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, cost, value, benefit, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			cost = EXCLUDED.cost,
			value = EXCLUDED.value,
			benefit = EXCLUDED.benefit,
			description = EXCLUDED.description
	`, t.Items), def.Name, def.Cost, def.Value, string(def.Benefit), def.Description)
	return err
}

func (q *queries) LockPool(ctx context.Context, name string) (economy.Pool, error) {
	return scanPool(q.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool = $1 FOR UPDATE`, name))
}

func (q *queries) InsertPool(ctx context.Context, p economy.Pool) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO pools (`+poolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.Name, p.Cap, p.Reward, rolesArg(p.RequiredRoles), p.Level, p.Current, p.Start)
	return err
}

func (q *queries) UpdatePool(ctx context.Context, name string, p economy.Pool) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE pools
		SET pool = $2, cap = $3, reward = $4, required_roles = $5, level = $6, current = $7, start = $8
		WHERE pool = $1
	`, name, p.Name, p.Cap, p.Reward, rolesArg(p.RequiredRoles), p.Level, p.Current, p.Start))
}

func (q *queries) DeletePool(ctx context.Context, name string) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM pools WHERE pool = $1`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) AppendEntry(ctx context.Context, e economy.Entry) error {
	kind, owner := store.EntryOwner(e.Owner)
	_, err := q.db.Exec(ctx, `
		INSERT INTO ledger_entries (owner_kind, owner, action, delta, balance)
		VALUES ($1, $2, $3, $4, $5)
	`, kind, owner, e.Action, e.Delta, e.Balance)
	return err
}

func rolesArg(roles []int64) []int64 {
	if roles == nil {
		return []int64{}
	}
	return roles
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return economy.ErrNoRows
	}
	return nil
}
