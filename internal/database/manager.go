package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "supportchat/pkg/database"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const defaultRetryDelay = 500 * time.Millisecond

var _ interfaces.MessageCache = (*Manager)(nil)

// Manager is the SQLite conversation cache. Reads run concurrently on the
// pool; every write goes through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
	log          zerolog.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the cache, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config, log zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   defaultRetryDelay,
		log:          log.With().Str("component", "cache").Logger(),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop runs queued writes one at a time. Writes queued before Close
// are still executed.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)

		case <-m.shutdown:
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					m.log.Debug().Msg("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// run executes op, retrying once after retryDelay.
func (m *Manager) run(op writeOperation) {
	attempt := 0
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), 1)
	err := backoff.Retry(func() error {
		attempt++
		err := op.operation(m.db)
		if err != nil && attempt == 1 {
			m.log.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("Database write failed, retrying")
		}
		return err
	}, policy)
	if err != nil {
		m.log.Error().Err(err).Msg("Database write failed after retry")
	}
	op.result <- err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		m.mu.RUnlock()
		return <-result
	case <-timer.C:
		m.mu.RUnlock()
		return ErrWriteTimeout
	case <-m.shutdown:
		m.mu.RUnlock()
		return ErrShuttingDown
	}
}

// SaveSession creates or updates the session row. created_at is kept
// from the first save.
func (m *Manager) SaveSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.ID == "" {
		return types.ErrInvalidSession
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var closedAt any
	if session.ClosedAt != nil {
		closedAt = session.ClosedAt.UTC()
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (id, form_id, state, created_at, closed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				form_id = excluded.form_id,
				state = excluded.state,
				closed_at = excluded.closed_at
		`
		_, err := db.ExecContext(ctx, query, session.ID, session.FormID, int(session.State), created.UTC(), closedAt)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, form_id, state, created_at, closed_at
		FROM sessions
		WHERE id = ?
	`

	var session types.Session
	var state int
	var closedAt sql.NullTime
	err := m.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.FormID,
		&state,
		&session.CreatedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	session.State = types.SessionState(state)
	if closedAt.Valid {
		session.ClosedAt = &closedAt.Time
	}
	return &session, nil
}

// StoreMessages upserts messages by id in one transaction.
func (m *Manager) StoreMessages(ctx context.Context, messages []types.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO messages
				(id, session_id, sender_id, sender_type, body, attachments, value, question, answers_question_id, created_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare message insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range messages {
			msg := &messages[i]

			attachments := msg.Attachments
			if attachments == nil {
				attachments = []types.Attachment{}
			}
			attachmentsJSON, err := json.Marshal(attachments)
			if err != nil {
				return fmt.Errorf("failed to marshal attachments: %w", err)
			}

			var question any
			if msg.Question != nil {
				questionJSON, err := json.Marshal(msg.Question)
				if err != nil {
					return fmt.Errorf("failed to marshal question: %w", err)
				}
				question = string(questionJSON)
			}

			_, err = stmt.ExecContext(ctx,
				msg.ID,
				msg.SessionID,
				msg.SenderID,
				msg.SenderType,
				msg.Body,
				string(attachmentsJSON),
				msg.Value,
				question,
				msg.AnswersQuestionID,
				msg.CreatedAt.UTC(),
				string(msg.Status),
			)
			if err != nil {
				return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit messages: %w", err)
		}
		return nil
	})
}

// DeleteMessage removes a message by id. Missing ids are not an error.
func (m *Manager) DeleteMessage(ctx context.Context, messageID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
}

// GetSessionHistory returns a session's messages ordered by (created_at, id).
func (m *Manager) GetSessionHistory(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender_id, sender_type, body, attachments, value, question, answers_question_id, created_at, status
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var attachmentsJSON, status string
		var question sql.NullString

		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.SenderID,
			&msg.SenderType,
			&msg.Body,
			&attachmentsJSON,
			&msg.Value,
			&question,
			&msg.AnswersQuestionID,
			&msg.CreatedAt,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Status = types.DeliveryStatus(status)

		if err := json.Unmarshal([]byte(attachmentsJSON), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
		if len(msg.Attachments) == 0 {
			msg.Attachments = nil
		}
		if question.Valid {
			msg.Question = &types.FormQuestion{}
			if err := json.Unmarshal([]byte(question.String), msg.Question); err != nil {
				return nil, fmt.Errorf("failed to unmarshal question: %w", err)
			}
		}

		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains pending writes and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
