// Package store holds the table layout shared by the Postgres and SQLite backends.
package store

import (
	"strconv"

	"guildbank/internal/economy"
)

// Tables names the catalog and inventory tables for one scope.
type Tables struct {
	Items     string
	Inventory string
	OwnerCol  string
}

func TablesFor(scope economy.Scope) Tables {
	if scope == economy.ScopeGang {
		return Tables{Items: "gang_items", Inventory: "gang_inventory", OwnerCol: "gang"}
	}
	return Tables{Items: "user_items", Inventory: "user_inventory", OwnerCol: "user_id"}
}

// OwnerKey is the value bound to Tables.OwnerCol.
func OwnerKey(o economy.Owner) any {
	if o.Scope == economy.ScopeGang {
		return o.Gang
	}
	return o.UserID
}

// EntryOwner splits an owner into the ledger_entries (owner_kind, owner) columns.
func EntryOwner(o economy.Owner) (string, string) {
	if o.Scope == economy.ScopeGang {
		return string(economy.ScopeGang), o.Gang
	}
	return string(economy.ScopeUser), strconv.FormatInt(o.UserID, 10)
}
