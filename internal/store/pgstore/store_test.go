package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildbank/internal/db"
	"guildbank/internal/economy"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(pgx.ErrNoRows), economy.ErrNoRows)
	assert.ErrorIs(t, classify(fmt.Errorf("scan: %w", pgx.ErrNoRows)), economy.ErrNoRows)

	for _, code := range []string{"40001", "40P01", "55P03", "57014"} {
		err := classify(&pgconn.PgError{Code: code, Message: "conflict"})
		assert.ErrorIs(t, err, economy.ErrTxConflict, code)
	}
	unique := &pgconn.PgError{Code: "23505"}
	assert.Same(t, error(unique), classify(unique))
}

// openIntegration connects to GUILDBANK_TEST_DATABASE_URL, migrates it and empties
// every table. The database is shared, so these tests must not run in parallel.
func openIntegration(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("GUILDBANK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GUILDBANK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	// A second run finds every migration recorded.
	require.NoError(t, db.Migrate(ctx, pool))

	s := New(pool, 2*time.Second)
	require.NoError(t, s.Reset(ctx))
	return s
}

func TestConcurrentBuysAgainstPostgres(t *testing.T) {
	s := openIntegration(t)
	ctx := context.Background()
	svc := economy.NewService(s, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.CreateGang(ctx, "Crows", 0))
	require.NoError(t, s.AddMember(ctx, economy.Member{UserID: 1, Gang: "Crows", Leader: true}))
	_, err := svc.SyncCatalog(ctx, economy.ScopeUser, []economy.ItemDef{{Name: "Shield", Cost: 30, Value: 5, Benefit: economy.BenefitDefense}})
	require.NoError(t, err)
	_, err = svc.AdjustPoints(ctx, economy.AdjustInput{Admin: 99, Target: 1, Delta: 100})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.BuyItem(ctx, economy.TradeInput{Actor: 1, Scope: economy.ScopeUser, Item: "Shield"})
			if err != nil && !errors.Is(err, economy.ErrInsufficientResource) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	points, err := svc.Reputation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), points)

	inv, err := svc.Inventory(ctx, 1, economy.ScopeUser)
	require.NoError(t, err)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, int64(3), inv.Items[0].Quantity)
}

func TestHoldingsAndPoolsAgainstPostgres(t *testing.T) {
	s := openIntegration(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGang(ctx, "Crows", 10))
	id, err := s.CreateTerritory(ctx, economy.Territory{Name: "Docks", Gang: "Crows"})
	require.NoError(t, err)
	assert.Positive(t, id)

	err = s.WithTx(ctx, func(tx economy.Tx) error {
		require.NoError(t, tx.UpsertItem(ctx, economy.ScopeGang, economy.ItemDef{Name: "Wall", Cost: 5, Value: 1, Benefit: economy.BenefitDefense}))
		item, err := tx.ItemByName(ctx, economy.ScopeGang, "Wall")
		require.NoError(t, err)

		owner := economy.GangOwner("Crows")
		qty, err := tx.AddHolding(ctx, owner, item.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), qty)

		h, err := tx.LockHolding(ctx, owner, "Wall")
		require.NoError(t, err)
		assert.Equal(t, int64(2), h.Quantity)
		for _, want := range []int64{1, 0} {
			qty, err = tx.RemoveHolding(ctx, owner, item.ID)
			require.NoError(t, err)
			assert.Equal(t, want, qty)
		}
		_, err = tx.LockDefendedTerritory(ctx, "Crows")
		assert.ErrorIs(t, err, economy.ErrNoRows)

		require.NoError(t, tx.InsertPool(ctx, economy.Pool{Name: "Harbor", Cap: 10, Level: 1, RequiredRoles: []int64{4, 2}}))
		return nil
	})
	require.NoError(t, err)

	err = s.Snapshot(ctx, func(r economy.Reader) error {
		p, err := r.Pool(ctx, "Harbor")
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 2}, p.RequiredRoles)
		holdings, err := r.Holdings(ctx, economy.GangOwner("Crows"))
		require.NoError(t, err)
		assert.Empty(t, holdings)
		return nil
	})
	require.NoError(t, err)
}
