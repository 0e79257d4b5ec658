// Package archive provides PostgreSQL-backed durable storage for messages
// that pass through the sync engine. The in-memory store only holds the
// working window; the archive keeps everything for later search or export.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/pulse/chat-sync/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store archives messages in PostgreSQL. Upserts are keyed by
// (peer_id, msg_id), so re-archiving an edited message replaces the row.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, applies pending migrations and returns a
// ready store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: connection failed: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("archive: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	return nil
}

// SaveMessages upserts a batch of messages in one transaction.
func (s *Store) SaveMessages(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO archived_messages
			(msg_id, peer_id, from_id, out, text, sent_at, edited_at, random_id, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (peer_id, msg_id) DO UPDATE SET
			text = EXCLUDED.text,
			edited_at = EXCLUDED.edited_at,
			attachments = EXCLUDED.attachments`

	for _, msg := range msgs {
		var attachments []byte
		if len(msg.Attachments) > 0 {
			if attachments, err = json.Marshal(msg.Attachments); err != nil {
				return fmt.Errorf("archive: marshal attachments of %d: %w", msg.ID, err)
			}
		}
		var editedAt any
		if msg.EditTime > 0 {
			editedAt = time.Unix(msg.EditTime, 0)
		}

		if _, err := tx.ExecContext(ctx, query,
			msg.ID,
			msg.PeerID,
			msg.FromID,
			msg.Out,
			msg.Text,
			time.Unix(msg.Date, 0),
			editedAt,
			msg.RandomID,
			attachments,
		); err != nil {
			return fmt.Errorf("archive: insert %d: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// CountByPeer returns how many messages are archived for a peer. Used by
// operational tooling and tests.
func (s *Store) CountByPeer(ctx context.Context, peerID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_messages WHERE peer_id = $1`, peerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("archive: count peer %d: %w", peerID, err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
