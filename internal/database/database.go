package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func Connect() (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "adaptest_user")
	password := getEnv("DB_PASSWORD", "adaptest_password")
	dbname := getEnv("DB_NAME", "adaptest")
	sslmode := getEnv("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func Migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		email      VARCHAR(255) UNIQUE NOT NULL,
		name       VARCHAR(255) NOT NULL,
		password   VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS items (
		id                   BIGSERIAL PRIMARY KEY,
		topic                VARCHAR(100) NOT NULL,
		content              TEXT NOT NULL,
		discrimination       DOUBLE PRECISION NOT NULL CHECK (discrimination > 0),
		difficulty           DOUBLE PRECISION NOT NULL,
		guessing             DOUBLE PRECISION NOT NULL CHECK (guessing >= 0 AND guessing < 1),
		target_exposure_rate DOUBLE PRECISION NOT NULL DEFAULT 0.25
		                     CHECK (target_exposure_rate > 0 AND target_exposure_rate <= 1),
		times_administered   BIGINT NOT NULL DEFAULT 0,
		active               BOOLEAN NOT NULL DEFAULT TRUE,
		created_at           TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_items_topic ON items(topic, active);

	CREATE TABLE IF NOT EXISTS item_exposure (
		item_id            BIGINT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
		times_considered   BIGINT NOT NULL DEFAULT 0,
		times_admitted     BIGINT NOT NULL DEFAULT 0,
		times_administered BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id           UUID PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		topic        VARCHAR(100) NOT NULL,
		status       VARCHAR(20) NOT NULL DEFAULT 'continuing',
		stop_reason  VARCHAR(30),
		item_count   INT NOT NULL DEFAULT 0,
		started_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, status);

	CREATE TABLE IF NOT EXISTS session_items (
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		item_id    BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		picked_at  TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (session_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS response_history (
		id              BIGSERIAL PRIMARY KEY,
		user_id         BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_id      UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		item_id         BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		topic           VARCHAR(100) NOT NULL,
		correct         BOOLEAN NOT NULL,
		skipped         BOOLEAN NOT NULL DEFAULT FALSE,
		discrimination  DOUBLE PRECISION NOT NULL,
		difficulty      DOUBLE PRECISION NOT NULL,
		guessing        DOUBLE PRECISION NOT NULL,
		theta_at_admin  DOUBLE PRECISION NOT NULL,
		latency_seconds REAL,
		answered_at     TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_history_user_topic ON response_history(user_id, topic, answered_at);
	CREATE INDEX IF NOT EXISTS idx_history_session ON response_history(session_id, answered_at);

	CREATE TABLE IF NOT EXISTS learner_abilities (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		scope          VARCHAR(20) NOT NULL,
		scope_value    VARCHAR(100),
		theta          DOUBLE PRECISION NOT NULL DEFAULT 0
		               CHECK (theta >= -3 AND theta <= 3),
		sem            DOUBLE PRECISION,
		response_count INT NOT NULL DEFAULT 0,
		last_updated   TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE NULLS NOT DISTINCT (user_id, scope, scope_value)
	);

	CREATE INDEX IF NOT EXISTS idx_abilities_user ON learner_abilities(user_id);

	CREATE TABLE IF NOT EXISTS policy_states (
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		dim        INT NOT NULL,
		state      JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (user_id, dim)
	);
	`

	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
