package db

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ai_call_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  call_id TEXT NOT NULL UNIQUE,
  request_fingerprint TEXT NOT NULL,
  step TEXT NOT NULL,
  route TEXT,
  prompt_template_id TEXT,
  project_id TEXT,
  model_provider TEXT NOT NULL,
  model_name TEXT NOT NULL,
  status TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  error_message TEXT,
  log_directory TEXT,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_created ON ai_call_logs (created_at);
CREATE INDEX IF NOT EXISTS idx_calls_step ON ai_call_logs (step, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_status ON ai_call_logs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_model ON ai_call_logs (model_name, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_prompt ON ai_call_logs (prompt_template_id, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_project ON ai_call_logs (project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_fingerprint ON ai_call_logs (request_fingerprint);
`
