package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE turns (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_turns_session ON turns (session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "add active entity to sessions",
		SQL: `
			ALTER TABLE sessions ADD COLUMN active_entity_id TEXT;
			ALTER TABLE sessions ADD COLUMN active_entity_name TEXT NOT NULL DEFAULT '';
		`,
	},
}
