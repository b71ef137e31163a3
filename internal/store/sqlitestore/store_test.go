package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildbank/internal/economy"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "bank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedItem(t *testing.T, s *Store, scope economy.Scope, name string) economy.Item {
	t.Helper()
	ctx := context.Background()
	var item economy.Item
	err := s.WithTx(ctx, func(tx economy.Tx) error {
		if err := tx.UpsertItem(ctx, scope, economy.ItemDef{Name: name, Cost: 10, Value: 1, Benefit: economy.BenefitOther}); err != nil {
			return err
		}
		var err error
		item, err = tx.ItemByName(ctx, scope, name)
		return err
	})
	require.NoError(t, err)
	return item
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "")
	assert.Error(t, err)
}

func TestHoldingCounts(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.Error(t, s.AddMember(ctx, economy.Member{UserID: 2, Gang: "Nobody"}), "membership needs an existing gang")
	require.NoError(t, s.CreateGang(ctx, "Crows", 0))
	require.NoError(t, s.AddMember(ctx, economy.Member{UserID: 1, Gang: "Crows"}))
	item := seedItem(t, s, economy.ScopeUser, "Rope")
	owner := economy.UserOwner(1)

	err := s.WithTx(ctx, func(tx economy.Tx) error {
		qty, err := tx.AddHolding(ctx, owner, item.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), qty)
		qty, err = tx.AddHolding(ctx, owner, item.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), qty)

		_, err = tx.AddHolding(ctx, owner, item.ID, 0)
		assert.Error(t, err)

		qty, err = tx.RemoveHolding(ctx, owner, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), qty)
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx economy.Tx) error {
		for _, want := range []int64{1, 0} {
			qty, err := tx.RemoveHolding(ctx, owner, item.ID)
			require.NoError(t, err)
			assert.Equal(t, want, qty)
		}
		_, err := tx.RemoveHolding(ctx, owner, item.ID)
		assert.ErrorIs(t, err, economy.ErrNoRows)
		return nil
	})
	require.NoError(t, err)

	err = s.Snapshot(ctx, func(r economy.Reader) error {
		_, err := r.Holding(ctx, owner, "Rope")
		assert.ErrorIs(t, err, economy.ErrNoRows)
		holdings, err := r.Holdings(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, holdings)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGang(ctx, "Crows", 40))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx economy.Tx) error {
		require.NoError(t, tx.SetControl(ctx, "Crows", 0))
		require.NoError(t, tx.AppendEntry(ctx, economy.Entry{Owner: economy.GangOwner("Crows"), Action: "test", Delta: -40}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.Snapshot(ctx, func(r economy.Reader) error {
		control, err := r.Control(ctx, "Crows")
		require.NoError(t, err)
		assert.Equal(t, int64(40), control)
		return nil
	})
	require.NoError(t, err)
	entries, err := s.Entries(ctx, economy.GangOwner("Crows"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBalancesAreNonNegative(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGang(ctx, "Crows", 10))

	err := s.WithTx(ctx, func(tx economy.Tx) error {
		return tx.SetControl(ctx, "Crows", -1)
	})
	assert.Error(t, err)

	err = s.WithTx(ctx, func(tx economy.Tx) error {
		return tx.SetPoints(ctx, 77, 5)
	})
	assert.ErrorIs(t, err, economy.ErrNoRows)
}

func TestIdempotencyAndUsers(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx economy.Tx) error {
		created, err := tx.EnsureUser(ctx, 5)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.EnsureUser(ctx, 5)
		require.NoError(t, err)
		assert.False(t, created)

		ok, err := tx.ClaimIdempotency(ctx, 5, "k", "buy")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.ClaimIdempotency(ctx, 5, "k", "sell")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = tx.ClaimIdempotency(ctx, 6, "k", "buy")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestPoolRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	pool := economy.Pool{Name: "Harbor", Cap: 10, Reward: "boat", Level: 1}
	err := s.WithTx(ctx, func(tx economy.Tx) error {
		require.NoError(t, tx.InsertPool(ctx, pool))
		pool.RequiredRoles = []int64{9, 3}
		pool.Name = "Docks"
		require.NoError(t, tx.UpdatePool(ctx, "Harbor", pool))
		assert.ErrorIs(t, tx.UpdatePool(ctx, "Harbor", pool), economy.ErrNoRows)
		return nil
	})
	require.NoError(t, err)

	err = s.Snapshot(ctx, func(r economy.Reader) error {
		got, err := r.Pool(ctx, "Docks")
		require.NoError(t, err)
		assert.Equal(t, []int64{9, 3}, got.RequiredRoles)
		_, err = r.Pool(ctx, "Harbor")
		assert.ErrorIs(t, err, economy.ErrNoRows)
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx economy.Tx) error {
		deleted, err := tx.DeletePool(ctx, "Docks")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = tx.DeletePool(ctx, "Docks")
		require.NoError(t, err)
		assert.False(t, deleted)
		return nil
	})
	require.NoError(t, err)
}

func TestTerritoryLookups(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGang(ctx, "Crows", 0))
	require.NoError(t, s.CreateGang(ctx, "Wolves", 0))

	_, err := s.CreateTerritory(ctx, economy.Territory{Name: "Quiet", Gang: "Crows"})
	require.NoError(t, err)
	contested, err := s.CreateTerritory(ctx, economy.Territory{Name: "Docks", Gang: "Crows", Raider: "Wolves"})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx economy.Tx) error {
		got, err := tx.LockDefendedTerritory(ctx, "Crows")
		require.NoError(t, err)
		assert.Equal(t, contested, got.ID)

		got, err = tx.LockRaidedTerritory(ctx, "Wolves")
		require.NoError(t, err)
		assert.Equal(t, "Docks", got.Name)

		_, err = tx.LockRaidedTerritory(ctx, "Crows")
		assert.ErrorIs(t, err, economy.ErrNoRows)
		_, err = tx.LockDefendedTerritory(ctx, "Wolves")
		assert.ErrorIs(t, err, economy.ErrNoRows)

		return tx.SetTerritoryStrength(ctx, contested, 4, 6)
	})
	require.NoError(t, err)

	got, err := s.Territory(ctx, contested)
	require.NoError(t, err)
	assert.Equal(t, economy.Territory{ID: contested, Name: "Docks", Gang: "Crows", Raider: "Wolves", Attack: 4, Defense: 6}, got)
}
