package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('private', 'group')),
            name VARCHAR(100),
            avatar_url TEXT,
            participants TEXT[] NOT NULL,
            admins TEXT[] NOT NULL DEFAULT '{}',
            created_by TEXT NOT NULL,
            private_key TEXT UNIQUE,
            last_message_id UUID,
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            seq BIGINT GENERATED ALWAYS AS IDENTITY,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            kind VARCHAR(10) NOT NULL DEFAULT 'text',
            attachments JSONB NOT NULL DEFAULT '[]',
            reply_to UUID,
            reactions JSONB NOT NULL DEFAULT '[]',
            delivered_to TEXT[] NOT NULL DEFAULT '{}',
            seen_by TEXT[] NOT NULL DEFAULT '{}',
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
            ON messages (conversation_id, created_at DESC, seq DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_search
            ON messages USING GIN (to_tsvector('english', content))`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_participants
            ON conversations USING GIN (participants)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_activity
            ON conversations (last_message_at DESC)`,
	}

	for _, query := range queries {
		if _, err := d.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
