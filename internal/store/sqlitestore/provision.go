package sqlitestore

import (
	"context"

	"guildbank/internal/economy"
	"guildbank/internal/store"
)

// The gang subsystem owns gangs, memberships and territories; the economy only reads
// them. These helpers stand in for it in local runs and tests.

func (s *Store) CreateGang(ctx context.Context, name string, control int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gangs (name, control) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET control = excluded.control
	`, name, control)
	return err
}

func (s *Store) AddMember(ctx context.Context, m economy.Member) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT (id) DO NOTHING`, m.UserID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gang_members (user_id, gang, leader, leadership) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			gang = excluded.gang,
			leader = excluded.leader,
			leadership = excluded.leadership
	`, m.UserID, m.Gang, m.Leader, m.Leadership)
	return err
}

// CreateTerritory inserts t and returns its id. Empty Gang or Raider are stored as NULL.
func (s *Store) CreateTerritory(ctx context.Context, t economy.Territory) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO territories (name, gang, raider, attack, defense)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		RETURNING id
	`, t.Name, t.Gang, t.Raider, t.Attack, t.Defense).Scan(&id)
	return id, err
}

func (s *Store) Territory(ctx context.Context, id int64) (economy.Territory, error) {
	return scanTerritory(s.db.QueryRowContext(ctx, `SELECT `+territoryColumns+` FROM territories WHERE id = ?`, id))
}

// Entries returns the ledger lines for owner, oldest first.
func (s *Store) Entries(ctx context.Context, owner economy.Owner) ([]economy.Entry, error) {
	kind, key := store.EntryOwner(owner)
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, delta, balance
		FROM ledger_entries
		WHERE owner_kind = ? AND owner = ?
		ORDER BY id
	`, kind, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]economy.Entry, 0)
	for rows.Next() {
		e := economy.Entry{Owner: owner}
		if err := rows.Scan(&e.Action, &e.Delta, &e.Balance); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
