package db

// Feedback store schema
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_phishguard_reports_table",
		Up: `
			CREATE TABLE IF NOT EXISTS phishguard_reports (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				type TEXT NOT NULL,
				payload JSONB,
				user_id TEXT NOT NULL DEFAULT 'anon',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_phishguard_reports_app_id ON phishguard_reports(app_id);
			CREATE INDEX IF NOT EXISTS idx_phishguard_reports_created_at ON phishguard_reports(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_phishguard_reports_created_at;
			DROP INDEX IF EXISTS idx_phishguard_reports_app_id;
			DROP TABLE IF EXISTS phishguard_reports;
		`,
	},
	{
		Version: 2,
		Name:    "create_phishguard_flags_table",
		Up: `
			CREATE TABLE IF NOT EXISTS phishguard_flags (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				url TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT 'anon',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_phishguard_flags_app_id_created_at ON phishguard_flags(app_id, created_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_phishguard_flags_app_id_created_at;
			DROP TABLE IF EXISTS phishguard_flags;
		`,
	},
	{
		Version: 3,
		Name:    "index_phishguard_flags_url",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_phishguard_flags_url ON phishguard_flags(url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_phishguard_flags_url;
		`,
	},
}
