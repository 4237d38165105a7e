package fixtures

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one legacy session record seeded into the meta table. The
// subject's migration is expected to move it into the sessions table.
type Session struct {
	SessionID   string
	AccessToken string
}

// Generate produces n session fixtures with unique ids
func Generate(n int) []Session {
	sessions := make([]Session, 0, n)
	for i := 0; i < n; i++ {
		sessions = append(sessions, Session{
			SessionID:   uuid.NewString(),
			AccessToken: fmt.Sprintf("token-%s", uuid.NewString()),
		})
	}
	return sessions
}

// metaTableDDL matches the subject's pre-migration schema. The seeder
// creates the table because it runs before the subject boots and
// applies its own migrations.
const metaTableDDL = `
CREATE TABLE IF NOT EXISTS meta (
	id BIGSERIAL PRIMARY KEY,
	module VARCHAR(100) NOT NULL,
	key1 VARCHAR(256) NOT NULL,
	key2 VARCHAR(256) NOT NULL,
	start_dt BIGINT NOT NULL,
	value TEXT NOT NULL
)`

// EnsureMetaTable creates the legacy metadata table if absent
func EnsureMetaTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, metaTableDDL); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}

// Seed inserts the session fixtures into the meta table under module.
// Key layout follows the subject's /module/{session_id} key format:
// key1 stays empty and key2 carries the session id. The value column
// holds the JSON-encoded access token.
func Seed(ctx context.Context, db *sql.DB, module string, sessions []Session) error {
	for _, s := range sessions {
		value, err := json.Marshal(s.AccessToken)
		if err != nil {
			return fmt.Errorf("failed to encode access token for %s: %w", s.SessionID, err)
		}
		_, err = db.ExecContext(ctx,
			"INSERT INTO meta (module, key1, key2, start_dt, value) VALUES ($1, $2, $3, $4, $5)",
			module, "", s.SessionID, time.Now().UnixMicro(), string(value))
		if err != nil {
			return fmt.Errorf("failed to insert fixture %s: %w", s.SessionID, err)
		}
	}
	return nil
}
