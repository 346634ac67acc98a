package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_gamification",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_curriculum",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_practice_items",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: GAMIFICATION
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_stats (
    user_id VARCHAR(64) PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    total_sessions INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_practice_date DATE,
    streak_shield_count INTEGER NOT NULL DEFAULT 0,
    gems_balance INTEGER NOT NULL DEFAULT 0,
    badges_earned INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (current_level >= 1),
    CONSTRAINT valid_gems CHECK (gems_balance >= 0),
    CONSTRAINT valid_shields CHECK (streak_shield_count >= 0),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak)
);

CREATE TABLE IF NOT EXISTS practice_sessions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    duration_minutes INTEGER NOT NULL,
    sentiment_score SMALLINT NOT NULL,
    improvement_detected BOOLEAN NOT NULL DEFAULT FALSE,
    xp_earned INTEGER NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_duration CHECK (duration_minutes > 0),
    CONSTRAINT valid_sentiment CHECK (sentiment_score BETWEEN 1 AND 5)
);

CREATE INDEX IF NOT EXISTS idx_practice_sessions_user_created ON practice_sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS badge_definitions (
    badge_key VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL DEFAULT '',
    criteria_type VARCHAR(30) NOT NULL,
    criteria_value INTEGER NOT NULL DEFAULT 0,
    xp_reward INTEGER NOT NULL DEFAULT 0,
    gem_reward INTEGER NOT NULL DEFAULT 0,
    notify BOOLEAN NOT NULL DEFAULT FALSE,
    notify_event_key VARCHAR(100) NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    sort_order INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_rewards CHECK (xp_reward >= 0 AND gem_reward >= 0)
);

CREATE TABLE IF NOT EXISTS user_badges (
    user_id VARCHAR(64) NOT NULL,
    badge_key VARCHAR(64) NOT NULL REFERENCES badge_definitions(badge_key),
    earned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, badge_key)
);

CREATE TABLE IF NOT EXISTS gems_transactions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    type VARCHAR(10) NOT NULL,
    amount INTEGER NOT NULL,
    source VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    balance_after INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_type CHECK (type IN ('earn', 'spend')),
    CONSTRAINT valid_balance CHECK (balance_after >= 0)
);

CREATE INDEX IF NOT EXISTS idx_gems_transactions_user_created ON gems_transactions(user_id, created_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS gems_transactions;
DROP TABLE IF EXISTS user_badges;
DROP TABLE IF EXISTS badge_definitions;
DROP TABLE IF EXISTS practice_sessions;
DROP TABLE IF EXISTS user_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS curriculum_focuses (
    id BIGINT PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    focus_order INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_curriculum_focuses_order ON curriculum_focuses(focus_order, id);

CREATE TABLE IF NOT EXISTS curriculum_steps (
    id BIGINT PRIMARY KEY,
    focus_id BIGINT NOT NULL REFERENCES curriculum_focuses(id) ON DELETE CASCADE,
    key_name VARCHAR(10) NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    resource_ref TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_curriculum_steps_focus ON curriculum_steps(focus_id, id);

CREATE TABLE IF NOT EXISTS user_curriculum_progress (
    user_id VARCHAR(64) NOT NULL,
    focus_id BIGINT NOT NULL REFERENCES curriculum_focuses(id),
    key_1 TIMESTAMP WITH TIME ZONE,
    key_2 TIMESTAMP WITH TIME ZONE,
    key_3 TIMESTAMP WITH TIME ZONE,
    key_4 TIMESTAMP WITH TIME ZONE,
    key_5 TIMESTAMP WITH TIME ZONE,
    key_6 TIMESTAMP WITH TIME ZONE,
    key_7 TIMESTAMP WITH TIME ZONE,
    key_8 TIMESTAMP WITH TIME ZONE,
    key_9 TIMESTAMP WITH TIME ZONE,
    key_10 TIMESTAMP WITH TIME ZONE,
    key_11 TIMESTAMP WITH TIME ZONE,
    key_12 TIMESTAMP WITH TIME ZONE,
    PRIMARY KEY (user_id, focus_id)
);

CREATE TABLE IF NOT EXISTS user_assignments (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    step_id BIGINT NOT NULL REFERENCES curriculum_steps(id),
    focus_id BIGINT NOT NULL REFERENCES curriculum_focuses(id),
    completed_at TIMESTAMP WITH TIME ZONE,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- At most one live pointer per user
CREATE UNIQUE INDEX IF NOT EXISTS idx_user_assignments_live ON user_assignments(user_id) WHERE NOT deleted;
`

const migration002Down = `
DROP TABLE IF EXISTS user_assignments;
DROP TABLE IF EXISTS user_curriculum_progress;
DROP TABLE IF EXISTS curriculum_steps;
DROP TABLE IF EXISTS curriculum_focuses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: PRACTICE ITEMS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS practice_items (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(20) NOT NULL,
    title VARCHAR(200) NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_practice_items_user ON practice_items(user_id, sort_order);
`

const migration003Down = `
DROP TABLE IF EXISTS practice_items;
`
