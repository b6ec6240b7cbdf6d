package store

// Times are stored as unix milliseconds; daily statistics are keyed by YYYY-MM-DD.
const (
	queryCreateConversations = `CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`

	queryCreateMessages = `CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`

	queryCreateDecisions = `CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		message_text TEXT NOT NULL,
		need_search INTEGER NOT NULL,
		confidence REAL NOT NULL,
		reason TEXT NOT NULL,
		search_type TEXT NOT NULL,
		decision_tier TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		search_executed INTEGER NOT NULL DEFAULT 0,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		quota_exceeded INTEGER NOT NULL DEFAULT 0,
		search_cost REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`

	queryCreateCacheEntries = `CREATE TABLE IF NOT EXISTS cache_entries (
		query_hash TEXT PRIMARY KEY,
		normalized_query TEXT NOT NULL,
		original_query TEXT NOT NULL,
		search_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		cost_saved REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`

	queryCreateSummaries = `CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		summary_text TEXT NOT NULL,
		covered_message_count INTEGER NOT NULL,
		summary_tokens INTEGER NOT NULL,
		original_tokens INTEGER NOT NULL,
		compression_ratio REAL NOT NULL,
		key_topics TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`

	queryCreateQuotas = `CREATE TABLE IF NOT EXISTS quotas (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		hourly_limit INTEGER NOT NULL,
		daily_limit INTEGER NOT NULL,
		used_hourly INTEGER NOT NULL DEFAULT 0,
		used_daily INTEGER NOT NULL DEFAULT 0,
		last_reset_hour INTEGER NOT NULL,
		last_reset_day INTEGER NOT NULL
	)`

	queryCreateDailyStats = `CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		total_requests INTEGER NOT NULL DEFAULT 0,
		search_triggered INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		keyword_decisions INTEGER NOT NULL DEFAULT 0,
		semantic_decisions INTEGER NOT NULL DEFAULT 0,
		context_decisions INTEGER NOT NULL DEFAULT 0,
		total_search_cost REAL NOT NULL DEFAULT 0,
		total_cost_saved REAL NOT NULL DEFAULT 0,
		total_latency_ms INTEGER NOT NULL DEFAULT 0
	)`

	queryCreateCostLedger = `CREATE TABLE IF NOT EXISTS cost_ledger (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		model TEXT NOT NULL,
		model_tier TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cached_tokens INTEGER NOT NULL,
		cache_creation_tokens INTEGER NOT NULL,
		total_cost REAL NOT NULL,
		cache_savings REAL NOT NULL,
		request_class TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`

	queryCreateIndexMessagesConversation  = `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`
	queryCreateIndexDecisionsConversation = `CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id, created_at)`
	queryCreateIndexDecisionsCreated      = `CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`
	queryCreateIndexCacheRecent           = `CREATE INDEX IF NOT EXISTS idx_cache_type_created ON cache_entries(search_type, created_at)`
	queryCreateIndexCacheExpires          = `CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)`
	queryCreateIndexSummariesConversation = `CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id, covered_message_count)`
	queryCreateIndexCostCreated           = `CREATE INDEX IF NOT EXISTS idx_cost_created ON cost_ledger(created_at)`
)

var schema = []string{
	queryCreateConversations,
	queryCreateMessages,
	queryCreateDecisions,
	queryCreateCacheEntries,
	queryCreateSummaries,
	queryCreateQuotas,
	queryCreateDailyStats,
	queryCreateCostLedger,
	queryCreateIndexMessagesConversation,
	queryCreateIndexDecisionsConversation,
	queryCreateIndexDecisionsCreated,
	queryCreateIndexCacheRecent,
	queryCreateIndexCacheExpires,
	queryCreateIndexSummariesConversation,
	queryCreateIndexCostCreated,
}
