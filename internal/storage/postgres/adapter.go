// Package postgres is the PostgreSQL storage backend, built on a pgx pool.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codearena/internal/catalog"
	"codearena/internal/chat"
	"codearena/internal/common/errors"
	"codearena/internal/ratelimit"
	"codearena/internal/storage"
)

type Adapter struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Adapter)(nil)

func NewAdapter(ctx context.Context, dsn string) (*Adapter, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL connection string: %v", err))
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	return &Adapter{pool: pool}, nil
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS problems (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			input_description TEXT NOT NULL DEFAULT '',
			output_description TEXT NOT NULL DEFAULT '',
			constraints TEXT NOT NULL DEFAULT '',
			difficulty VARCHAR(32) NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			time_limit_ms BIGINT NOT NULL,
			memory_limit_mb INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_tags ON problems USING GIN (tags)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_search ON problems
			USING GIN (to_tsvector('english', title || ' ' || description))`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			chat_count_week DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_chat_reset TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := a.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

const problemColumns = `id, title, description, input_description, output_description,
	constraints, difficulty, tags, time_limit_ms, memory_limit_mb`

func (a *Adapter) LoadByID(ctx context.Context, id int64) (*catalog.Problem, error) {
	var p catalog.Problem
	err := a.pool.QueryRow(ctx, `SELECT `+problemColumns+` FROM problems WHERE id = $1`, id).Scan(
		&p.ID, &p.Title, &p.Description, &p.InputDescription, &p.OutputDescription,
		&p.Constraints, &p.Difficulty, &p.Tags, &p.TimeLimitMs, &p.MemoryLimitMb,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load problem %d: %w", id, err)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

func (a *Adapter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM problems`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count problems: %w", err)
	}
	return n, nil
}

func (a *Adapter) ListDistinctTags(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `SELECT DISTINCT unnest(tags) AS tag FROM problems ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// searchFilter builds the WHERE clause shared by Search and CountSearch.
func searchFilter(q catalog.SearchQuery) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if q.Term != "" {
		args = append(args, q.Term)
		clauses = append(clauses, fmt.Sprintf(
			"to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', $%d)", len(args)))
	}
	if q.Difficulty != "" {
		args = append(args, q.Difficulty)
		clauses = append(clauses, fmt.Sprintf("LOWER(difficulty) = $%d", len(args)))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		clauses = append(clauses, fmt.Sprintf("tags && $%d::text[]", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (a *Adapter) Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.Summary, error) {
	where, args := searchFilter(q)
	args = append(args, q.Size, q.Offset())
	query := fmt.Sprintf(`SELECT id, title, tags, difficulty FROM problems%s ORDER BY id LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search problems: %w", err)
	}
	defer rows.Close()

	results := []catalog.Summary{}
	for rows.Next() {
		var s catalog.Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.Tags, &s.Difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		if s.Tags == nil {
			s.Tags = []string{}
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func (a *Adapter) CountSearch(ctx context.Context, q catalog.SearchQuery) (int64, error) {
	where, args := searchFilter(q)
	var n int64
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM problems`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count search results: %w", err)
	}
	return n, nil
}

func (a *Adapter) Create(ctx context.Context, p *catalog.Problem) (*catalog.Problem, error) {
	created := p.Clone()
	err := a.pool.QueryRow(ctx, `
		INSERT INTO problems (title, description, input_description, output_description,
			constraints, difficulty, tags, time_limit_ms, memory_limit_mb)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.Title, p.Description, p.InputDescription, p.OutputDescription,
		p.Constraints, p.Difficulty, tagsOrEmpty(p.Tags), p.TimeLimitMs, p.MemoryLimitMb,
	).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}
	created.Tags = tagsOrEmpty(created.Tags)
	return created, nil
}

func (a *Adapter) Update(ctx context.Context, p *catalog.Problem) error {
	tag, err := a.pool.Exec(ctx, `
		UPDATE problems SET title = $1, description = $2, input_description = $3,
			output_description = $4, constraints = $5, difficulty = $6, tags = $7,
			time_limit_ms = $8, memory_limit_mb = $9
		WHERE id = $10`,
		p.Title, p.Description, p.InputDescription, p.OutputDescription,
		p.Constraints, p.Difficulty, tagsOrEmpty(p.Tags), p.TimeLimitMs, p.MemoryLimitMb, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update problem %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError(fmt.Sprintf("problem %d", p.ID))
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM problems WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete problem %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Quotas returns the chat quota view of the users table.
func (a *Adapter) Quotas() ratelimit.Store {
	return &quotaStore{pool: a.pool}
}

type quotaStore struct {
	pool *pgxpool.Pool
}

// Update locks the user's row for the length of the transaction, so
// concurrent updates for one user run one after another.
func (s *quotaStore) Update(ctx context.Context, userID int64, fn ratelimit.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", userID, err)
	}

	var (
		state     ratelimit.State
		lastReset *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT chat_count_week, last_chat_reset FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&state.Debt, &lastReset)
	if err != nil {
		return fmt.Errorf("failed to read quota for user %d: %w", userID, err)
	}
	if lastReset != nil {
		state.LastReset = *lastReset
	}

	next, write, err := fn(state)
	if err != nil {
		return err
	}
	if write {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET chat_count_week = $1, last_chat_reset = $2 WHERE id = $3`,
			next.Debt, nullTime(next.LastReset), userID,
		); err != nil {
			return fmt.Errorf("failed to write quota for user %d: %w", userID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *quotaStore) Get(ctx context.Context, userID int64) (ratelimit.State, error) {
	var (
		state     ratelimit.State
		lastReset *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT chat_count_week, last_chat_reset FROM users WHERE id = $1`, userID,
	).Scan(&state.Debt, &lastReset)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return ratelimit.State{}, nil
	}
	if err != nil {
		return ratelimit.State{}, fmt.Errorf("failed to read quota for user %d: %w", userID, err)
	}
	if lastReset != nil {
		state.LastReset = *lastReset
	}
	return state, nil
}

func (s *quotaStore) Reset(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET chat_count_week = 0, last_chat_reset = NULL WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset quota for user %d: %w", userID, err)
	}
	return nil
}

func (a *Adapter) SaveMessage(ctx context.Context, msg chat.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO chat_messages (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		msg.UserID, msg.Role, msg.Content, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

func (a *Adapter) RecentMessages(ctx context.Context, userID int64, limit int) ([]chat.Message, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT user_id, role, content, created_at FROM chat_messages
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return oldestFirst(messages), nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func oldestFirst(messages []chat.Message) []chat.Message {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
