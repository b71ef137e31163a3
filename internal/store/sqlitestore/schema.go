package sqlitestore

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS gangs (
		name TEXT PRIMARY KEY,
		control INTEGER NOT NULL DEFAULT 0 CHECK (control >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS gang_members (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		gang TEXT NOT NULL REFERENCES gangs(name) ON UPDATE CASCADE,
		leader INTEGER NOT NULL DEFAULT 0,
		leadership INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS user_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		cost INTEGER NOT NULL CHECK (cost >= 0),
		value INTEGER NOT NULL,
		benefit TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS gang_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		cost INTEGER NOT NULL CHECK (cost >= 0),
		value INTEGER NOT NULL,
		benefit TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS user_inventory (
		user_id INTEGER NOT NULL REFERENCES users(id),
		item INTEGER NOT NULL REFERENCES user_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		PRIMARY KEY (user_id, item)
	);`,
	`CREATE TABLE IF NOT EXISTS gang_inventory (
		gang TEXT NOT NULL REFERENCES gangs(name) ON UPDATE CASCADE,
		item INTEGER NOT NULL REFERENCES gang_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		PRIMARY KEY (gang, item)
	);`,
	`CREATE TABLE IF NOT EXISTS territories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		gang TEXT REFERENCES gangs(name) ON UPDATE CASCADE,
		raider TEXT REFERENCES gangs(name) ON UPDATE CASCADE,
		attack INTEGER NOT NULL DEFAULT 0 CHECK (attack >= 0),
		defense INTEGER NOT NULL DEFAULT 0 CHECK (defense >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS pools (
		pool TEXT PRIMARY KEY,
		cap INTEGER NOT NULL CHECK (cap > 0),
		reward TEXT NOT NULL DEFAULT '',
		required_roles TEXT NOT NULL DEFAULT '[]',
		level INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
		current INTEGER NOT NULL DEFAULT 0 CHECK (current >= 0 AND current <= cap),
		start INTEGER NOT NULL DEFAULT 0 CHECK (start >= 0)
	);`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		user_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		action TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_kind TEXT NOT NULL,
		owner TEXT NOT NULL,
		action TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_owner ON ledger_entries (owner_kind, owner, id);`,
}
