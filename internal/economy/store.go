package economy

import (
	"context"
	"time"
)

// Store is the relational state behind the economy. Implementations must provide at
// least read-committed isolation, honor ctx cancellation by rolling back, and translate
// lock contention into ErrTxConflict.
type Store interface {
	// WithTx runs fn inside one transaction. A non-nil return from fn rolls back.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// Snapshot runs fn against plain reads outside any transaction.
	Snapshot(ctx context.Context, fn func(Reader) error) error
}

// Reader is the read-only projection shared by snapshots and transactions. Missing
// rows are reported as ErrNoRows.
type Reader interface {
	Member(ctx context.Context, userID int64) (Member, error)
	Points(ctx context.Context, userID int64) (int64, error)
	Control(ctx context.Context, gang string) (int64, error)

	ItemByName(ctx context.Context, scope Scope, name string) (Item, error)
	// Items lists a catalog ordered by ascending value, then name.
	Items(ctx context.Context, scope Scope) ([]Item, error)

	Holding(ctx context.Context, owner Owner, itemName string) (Holding, error)
	// Holdings lists an owner's inventory ordered by ascending value, then name.
	Holdings(ctx context.Context, owner Owner) ([]Holding, error)

	Pool(ctx context.Context, name string) (Pool, error)
	Pools(ctx context.Context) ([]Pool, error)
}

// Tx adds row locks and writes. Every Lock* method takes an exclusive row lock held
// until the transaction ends.
type Tx interface {
	Reader

	ClaimIdempotency(ctx context.Context, userID int64, key, action string) (bool, error)
	// PruneIdempotency forgets keys claimed before the cutoff.
	PruneIdempotency(ctx context.Context, before time.Time) (int64, error)
	EnsureUser(ctx context.Context, userID int64) (bool, error)

	LockPoints(ctx context.Context, userID int64) (int64, error)
	SetPoints(ctx context.Context, userID, points int64) error
	LockControl(ctx context.Context, gang string) (int64, error)
	SetControl(ctx context.Context, gang string, control int64) error

	LockHolding(ctx context.Context, owner Owner, itemName string) (Holding, error)
	// AddHolding inserts the row with quantity delta or increments it, returning the new quantity.
	AddHolding(ctx context.Context, owner Owner, itemID, delta int64) (int64, error)
	// RemoveHolding decrements by one, deleting the row when it reaches zero, and
	// returns the remaining quantity. The row must already be locked.
	RemoveHolding(ctx context.Context, owner Owner, itemID int64) (int64, error)

	// LockDefendedTerritory returns a territory owned by gang that is under raid.
	LockDefendedTerritory(ctx context.Context, gang string) (Territory, error)
	// LockRaidedTerritory returns a territory gang is currently raiding.
	LockRaidedTerritory(ctx context.Context, gang string) (Territory, error)
	SetTerritoryStrength(ctx context.Context, id, attack, defense int64) error

	UpsertItem(ctx context.Context, scope Scope, def ItemDef) error

	LockPool(ctx context.Context, name string) (Pool, error)
	InsertPool(ctx context.Context, p Pool) error
	UpdatePool(ctx context.Context, name string, p Pool) error
	DeletePool(ctx context.Context, name string) (bool, error)

	AppendEntry(ctx context.Context, e Entry) error
}
