// Package audit records every chat interaction for later review: the
// question, the generated response, which chunks were retrieved, and the
// end-to-end latency.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no audit log exists for a chat ID.
var ErrNotFound = errors.New("audit log not found")

// RetrievedDoc is the provenance snapshot of one retrieved chunk.
type RetrievedDoc struct {
	ID         uuid.UUID `json:"id"`
	Filename   string    `json:"filename"`
	Similarity float64   `json:"similarity"`
}

// Log is one recorded chat interaction.
type Log struct {
	ChatID          uuid.UUID      `json:"chat_id"`
	Question        string         `json:"question"`
	Response        string         `json:"response"`
	RetrievedDocs   []RetrievedDoc `json:"retrieved_docs"`
	LatencyMS       int            `json:"latency_ms"`
	CreatedAt       time.Time      `json:"created_at"`
	Feedback        *string        `json:"feedback,omitempty"`
	ModelConfidence *float64       `json:"model_confidence,omitempty"`
}

// Store persists audit logs in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit Store.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Insert records a chat interaction. A zero ChatID is replaced with a new
// UUID and written back.
func (s *Store) Insert(ctx context.Context, l *Log) error {
	if l.ChatID == uuid.Nil {
		l.ChatID = uuid.New()
	}
	docs := l.RetrievedDocs
	if docs == nil {
		docs = []RetrievedDoc{}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO audit_logs (chat_id, question, response, retrieved_docs, latency_ms, feedback, model_confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		l.ChatID, l.Question, l.Response, docs, l.LatencyMS, l.Feedback, l.ModelConfidence,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// Get retrieves an audit log by chat ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, chatID uuid.UUID) (*Log, error) {
	var l Log
	err := s.pool.QueryRow(ctx,
		`SELECT chat_id, question, response, retrieved_docs, latency_ms, created_at, feedback, model_confidence
		 FROM audit_logs WHERE chat_id = $1`,
		chatID,
	).Scan(&l.ChatID, &l.Question, &l.Response, &l.RetrievedDocs, &l.LatencyMS,
		&l.CreatedAt, &l.Feedback, &l.ModelConfidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	return &l, nil
}

// List returns recent audit logs, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Log, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, question, response, retrieved_docs, latency_ms, created_at, feedback, model_confidence
		 FROM audit_logs
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ChatID, &l.Question, &l.Response, &l.RetrievedDocs,
			&l.LatencyMS, &l.CreatedAt, &l.Feedback, &l.ModelConfidence); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return logs, nil
}

// UpdateFeedback attaches user feedback to a recorded interaction.
func (s *Store) UpdateFeedback(ctx context.Context, chatID uuid.UUID, feedback string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_logs SET feedback = $1 WHERE chat_id = $2`,
		feedback, chatID)
	if err != nil {
		return fmt.Errorf("updating feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
