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
		Name:    "create conversations and turns",
		SQL: `
			CREATE TABLE conversations (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL DEFAULT '',
				email           TEXT NOT NULL DEFAULT '',
				phone           TEXT NOT NULL DEFAULT '',
				category        TEXT NOT NULL,
				category_other  TEXT NOT NULL DEFAULT '',
				industry        TEXT NOT NULL,
				industry_other  TEXT NOT NULL DEFAULT '',
				free_text       TEXT NOT NULL DEFAULT '',
				company_name    TEXT NOT NULL DEFAULT '',
				company_url     TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'new',
				notes           TEXT NOT NULL DEFAULT '',
				intro_comment   TEXT,
				generated_cases TEXT,
				created_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_status ON conversations (status);
			CREATE INDEX idx_conversations_created ON conversations (created_at);

			CREATE TABLE turns (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role            TEXT NOT NULL,
				content         TEXT NOT NULL,
				image_url       TEXT NOT NULL DEFAULT '',
				created_at      TEXT NOT NULL
			);

			CREATE INDEX idx_turns_conversation ON turns (conversation_id, created_at, id);
		`,
	},
}
