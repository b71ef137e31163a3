package pgstore

import (
	"context"

	"guildbank/internal/economy"
)

// Gangs, memberships and territories belong to the gang subsystem. These helpers
// provision them for integration tests and local setups.

func (s *Store) CreateGang(ctx context.Context, name string, control int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO gangs (name, control) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET control = EXCLUDED.control
	`, name, control)
	return err
}

func (s *Store) AddMember(ctx context.Context, m economy.Member) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, m.UserID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO gang_members (user_id, gang, leader, leadership) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			gang = EXCLUDED.gang,
			leader = EXCLUDED.leader,
			leadership = EXCLUDED.leadership
	`, m.UserID, m.Gang, m.Leader, m.Leadership)
	return err
}

func (s *Store) CreateTerritory(ctx context.Context, t economy.Territory) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO territories (name, gang, raider, attack, defense)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		RETURNING id
	`, t.Name, t.Gang, t.Raider, t.Attack, t.Defense).Scan(&id)
	return id, err
}

// Reset empties every economy table. Integration tests call it between cases.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		TRUNCATE ledger_entries, idempotency_keys, pools, territories, gang_inventory,
			user_inventory, gang_items, user_items, gang_members, gangs, users
		RESTART IDENTITY CASCADE
	`)
	return err
}
