package feedback

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_feedback",
		SQL: `
			CREATE TABLE feedback (
				id         TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				comment    TEXT NOT NULL,
				transcript TEXT NOT NULL DEFAULT '',
				messages   TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL
			);
			CREATE INDEX idx_feedback_created ON feedback(created_at);
		`,
	},
	{
		Version: 2,
		Name:    "add_feedback_prompt",
		SQL:     `ALTER TABLE feedback ADD COLUMN prompt TEXT NOT NULL DEFAULT '';`,
	},
}
