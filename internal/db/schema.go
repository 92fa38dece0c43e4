package db

// SQL schema for the single application database. Timestamps are unix
// seconds. One file holds identity, OAuth connection state, and imported
// meeting data; the deployment is single-tenant so there is no per-user
// database split.

// AppSchema contains all the SQL statements for the application database.
const AppSchema = `
-- Users table: identities established by OIDC login
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

-- Sessions table: stores active login sessions
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

-- Pending authorizations: one-shot state for in-flight OAuth flows.
-- Consumed (deleted) on callback; rows older than ten minutes are dead.
CREATE TABLE IF NOT EXISTS pending_authorizations (
    state TEXT PRIMARY KEY,
    code_verifier TEXT NOT NULL,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    return_path TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_authorizations_created_at ON pending_authorizations(created_at);

-- Provider tokens: one credential set per (user, provider).
-- expires_at is NULL when the provider did not report a lifetime.
CREATE TABLE IF NOT EXISTS provider_tokens (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    expires_at INTEGER,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, provider)
);

-- Dynamic client registrations: one row per provider for this deployment.
-- Re-registered when the redirect URI changes (base URL moved).
CREATE TABLE IF NOT EXISTS oauth_client_registrations (
    provider TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    client_secret TEXT NOT NULL DEFAULT '',
    redirect_uri TEXT NOT NULL,
    registered_at INTEGER NOT NULL
);

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);

-- Meetings table: imported transcripts. source_id is the upstream document
-- id; re-imports overwrite instead of duplicating.
CREATE TABLE IF NOT EXISTS meetings (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    project_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT 'granola',
    source_id TEXT NOT NULL,
    title TEXT NOT NULL,
    transcript TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    archive_key TEXT NOT NULL DEFAULT '',
    imported_at INTEGER NOT NULL,
    UNIQUE (user_id, source, source_id)
);
CREATE INDEX IF NOT EXISTS idx_meetings_user_id ON meetings(user_id);
CREATE INDEX IF NOT EXISTS idx_meetings_project_id ON meetings(project_id);

-- Action items extracted from meeting transcripts
CREATE TABLE IF NOT EXISTS action_items (
    id TEXT PRIMARY KEY,
    meeting_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    text TEXT NOT NULL,
    done INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_items_meeting_id ON action_items(meeting_id);
CREATE INDEX IF NOT EXISTS idx_action_items_user_id ON action_items(user_id);
`
