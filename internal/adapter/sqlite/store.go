// Package sqlite implements the durable conversation store on SQLite.
//
// SQLite connections must not be shared between goroutines mid-operation, so
// the store runs a small worker pool: each worker leases one *sql.Conn for
// its whole lifetime and executes jobs submitted over a channel. Callers
// block until their job completes or their context is done.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_time
	ON conversations(user_id, timestamp);
`

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("store is closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context, conn *sql.Conn) error
	done chan error
}

type Store struct {
	db   *sql.DB
	jobs chan job
	wg   sync.WaitGroup
	log  zerolog.Logger
	met  *metrics.Metrics
	now  func() time.Time

	// mu guards closed and orders submissions against Close: a sender
	// holds the read lock for the whole send, so the jobs channel is
	// never closed mid-send.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database at path and starts the worker pool.
func Open(ctx context.Context, path string, workers int, log zerolog.Logger, met *metrics.Metrics) (*Store, error) {
	if workers < 1 {
		workers = 1
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(workers)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		db:   db,
		jobs: make(chan job),
		log:  log.With().Str("component", "sqlite").Logger(),
		met:  met,
		now:  time.Now,
	}

	for i := 0; i < workers; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("lease worker connection: %w", err)
		}
		s.wg.Add(1)
		go s.worker(i, conn)
	}

	s.log.Info().Str("path", path).Int("workers", workers).Msg("store opened")
	return s, nil
}

// Close stops the workers, releases their connections and closes the pool.
// Operations submitted afterwards fail with ErrClosed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()

		s.wg.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) worker(id int, conn *sql.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for j := range s.jobs {
		j.done <- j.fn(j.ctx, conn)
	}
	s.log.Debug().Int("worker", id).Msg("worker stopped")
}

// do dispatches fn to a worker and waits for the result. The done channel is
// buffered so an abandoned job never blocks its worker.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.jobs <- j:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) AppendMessage(ctx context.Context, userID int64, role, content string) error {
	start := time.Now()
	err := s.do(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO conversations (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			userID, role, content, s.now().UTC(),
		)
		return err
	})
	s.record("append_message", err, start)
	if err != nil {
		return &domain.PersistenceError{Op: "append message", Err: err}
	}
	return nil
}

func (s *Store) History(ctx context.Context, userID int64, limit int) ([]domain.Message, error) {
	// a negative LIMIT means "no limit" to SQLite
	if limit < 0 {
		limit = 0
	}

	start := time.Now()
	var messages []domain.Message
	err := s.do(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, user_id, role, content, timestamp
			 FROM conversations
			 WHERE user_id = ?
			 ORDER BY timestamp DESC, id DESC
			 LIMIT ?`,
			userID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m domain.Message
			if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.Timestamp); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	s.record("history", err, start)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get history", Err: err}
	}

	// rows arrive newest first, conversation order is oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) ClearHistory(ctx context.Context, userID int64) error {
	start := time.Now()
	err := s.do(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`DELETE FROM conversations WHERE user_id = ?`, userID)
		return err
	})
	s.record("clear_history", err, start)
	if err != nil {
		return &domain.PersistenceError{Op: "clear history", Err: err}
	}
	return nil
}

func (s *Store) SetSystemPrompt(ctx context.Context, userID int64, prompt string) error {
	start := time.Now()
	err := s.do(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversations WHERE user_id = ? AND role = ?`,
			userID, domain.RoleSystem,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			userID, domain.RoleSystem, prompt, s.now().UTC(),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	s.record("set_system_prompt", err, start)
	if err != nil {
		return &domain.PersistenceError{Op: "set system prompt", Err: err}
	}
	return nil
}

func (s *Store) SystemPrompt(ctx context.Context, userID int64) (string, bool, error) {
	start := time.Now()
	var (
		prompt string
		found  bool
	)
	err := s.do(ctx, func(ctx context.Context, conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT content FROM conversations
			 WHERE user_id = ? AND role = ?
			 ORDER BY timestamp DESC, id DESC
			 LIMIT 1`,
			userID, domain.RoleSystem,
		)
		switch err := row.Scan(&prompt); err {
		case nil:
			found = true
			return nil
		case sql.ErrNoRows:
			return nil
		default:
			return err
		}
	})
	s.record("get_system_prompt", err, start)
	if err != nil {
		return "", false, &domain.PersistenceError{Op: "get system prompt", Err: err}
	}
	return prompt, found, nil
}

func (s *Store) record(op string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.met.RecordStoreOp(op, status, time.Since(start))
}
