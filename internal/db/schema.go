package db

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  pass_hash TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_headers (
  id TEXT PRIMARY KEY,
  form_id TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  instructions TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT 'draft',
  active_from INTEGER,
  active_until INTEGER,
  created_by TEXT NOT NULL,
  updated_by TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_media (
  header_id TEXT PRIMARY KEY REFERENCES assessment_headers(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  locator TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assessment_questions (
  id TEXT NOT NULL,
  header_id TEXT NOT NULL REFERENCES assessment_headers(id) ON DELETE CASCADE,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL,
  trigger_pos REAL NOT NULL DEFAULT 0,
  order_index INTEGER NOT NULL,
  PRIMARY KEY (header_id, id),
  UNIQUE (header_id, order_index)
);

CREATE TABLE IF NOT EXISTS assessment_options (
  id TEXT NOT NULL,
  header_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  text TEXT NOT NULL,
  correct INTEGER NOT NULL DEFAULT 0,
  rank INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (header_id, question_id, id),
  FOREIGN KEY (header_id, question_id) REFERENCES assessment_questions(header_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS response_attempts (
  id TEXT PRIMARY KEY,
  header_id TEXT NOT NULL REFERENCES assessment_headers(id),
  participant_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  score REAL NOT NULL,
  passed INTEGER NOT NULL,
  proof_key TEXT NOT NULL DEFAULT '',
  proof_digest TEXT NOT NULL DEFAULT '',
  completed_at INTEGER NOT NULL,
  UNIQUE (header_id, participant_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS response_details (
  attempt_id TEXT NOT NULL REFERENCES response_attempts(id),
  question_id TEXT NOT NULL,
  value_json TEXT NOT NULL,
  correct INTEGER NOT NULL,
  needs_review INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  pass_hash TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_headers (
  id TEXT PRIMARY KEY,
  form_id TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  instructions TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT 'draft',
  active_from BIGINT,
  active_until BIGINT,
  created_by TEXT NOT NULL,
  updated_by TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_media (
  header_id TEXT PRIMARY KEY REFERENCES assessment_headers(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  locator TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assessment_questions (
  id TEXT NOT NULL,
  header_id TEXT NOT NULL REFERENCES assessment_headers(id) ON DELETE CASCADE,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL,
  trigger_pos DOUBLE PRECISION NOT NULL DEFAULT 0,
  order_index INTEGER NOT NULL,
  PRIMARY KEY (header_id, id),
  UNIQUE (header_id, order_index)
);

CREATE TABLE IF NOT EXISTS assessment_options (
  id TEXT NOT NULL,
  header_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  text TEXT NOT NULL,
  correct BOOLEAN NOT NULL DEFAULT FALSE,
  rank INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (header_id, question_id, id),
  FOREIGN KEY (header_id, question_id) REFERENCES assessment_questions(header_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS response_attempts (
  id TEXT PRIMARY KEY,
  header_id TEXT NOT NULL REFERENCES assessment_headers(id),
  participant_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  passed BOOLEAN NOT NULL,
  proof_key TEXT NOT NULL DEFAULT '',
  proof_digest TEXT NOT NULL DEFAULT '',
  completed_at BIGINT NOT NULL,
  UNIQUE (header_id, participant_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS response_details (
  attempt_id TEXT NOT NULL REFERENCES response_attempts(id),
  question_id TEXT NOT NULL,
  value_json TEXT NOT NULL,
  correct BOOLEAN NOT NULL,
  needs_review BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
