// Package sqlite is the single-node storage backend. Tags are kept as JSON
// arrays and searched with json_each.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codearena/internal/catalog"
	"codearena/internal/chat"
	"codearena/internal/common/errors"
	"codearena/internal/ratelimit"
	"codearena/internal/storage"
)

type Adapter struct {
	db *sql.DB
}

var _ storage.Storage = (*Adapter)(nil)

// NewAdapter opens the database file at path. Transactions take the write
// lock when they begin, so quota updates never interleave.
func NewAdapter(ctx context.Context, path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY in-process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	return &Adapter{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_busy_timeout=5000"
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS problems (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			input_description TEXT NOT NULL DEFAULT '',
			output_description TEXT NOT NULL DEFAULT '',
			constraints TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			time_limit_ms INTEGER NOT NULL,
			memory_limit_mb INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			chat_count_week REAL NOT NULL DEFAULT 0,
			last_chat_reset TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

const problemColumns = `id, title, description, input_description, output_description,
	constraints, difficulty, tags, time_limit_ms, memory_limit_mb`

func (a *Adapter) LoadByID(ctx context.Context, id int64) (*catalog.Problem, error) {
	var (
		p    catalog.Problem
		tags string
	)
	err := a.db.QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE id = ?`, id).Scan(
		&p.ID, &p.Title, &p.Description, &p.InputDescription, &p.OutputDescription,
		&p.Constraints, &p.Difficulty, &tags, &p.TimeLimitMs, &p.MemoryLimitMb,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load problem %d: %w", id, err)
	}
	if p.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("problem %d: %w", id, err)
	}
	return &p, nil
}

func (a *Adapter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count problems: %w", err)
	}
	return n, nil
}

func (a *Adapter) ListDistinctTags(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT DISTINCT t.value FROM problems, json_each(problems.tags) AS t ORDER BY t.value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// searchFilter builds the WHERE clause shared by Search and CountSearch.
func searchFilter(q catalog.SearchQuery) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if q.Term != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Term)) + "%"
		clauses = append(clauses, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if q.Difficulty != "" {
		clauses = append(clauses, "LOWER(difficulty) = ?")
		args = append(args, q.Difficulty)
	}
	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tags)), ",")
		clauses = append(clauses,
			"EXISTS (SELECT 1 FROM json_each(problems.tags) AS t WHERE t.value IN ("+placeholders+"))")
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (a *Adapter) Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.Summary, error) {
	where, args := searchFilter(q)
	args = append(args, q.Size, q.Offset())

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, title, tags, difficulty FROM problems`+where+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search problems: %w", err)
	}
	defer rows.Close()

	results := []catalog.Summary{}
	for rows.Next() {
		var (
			s    catalog.Summary
			tags string
		)
		if err := rows.Scan(&s.ID, &s.Title, &tags, &s.Difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		if s.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("problem %d: %w", s.ID, err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func (a *Adapter) CountSearch(ctx context.Context, q catalog.SearchQuery) (int64, error) {
	where, args := searchFilter(q)
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count search results: %w", err)
	}
	return n, nil
}

func (a *Adapter) Create(ctx context.Context, p *catalog.Problem) (*catalog.Problem, error) {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return nil, err
	}

	result, err := a.db.ExecContext(ctx, `
		INSERT INTO problems (title, description, input_description, output_description,
			constraints, difficulty, tags, time_limit_ms, memory_limit_mb)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.InputDescription, p.OutputDescription,
		p.Constraints, p.Difficulty, tags, p.TimeLimitMs, p.MemoryLimitMb,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}

	created := p.Clone()
	if created.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read new problem id: %w", err)
	}
	if created.Tags == nil {
		created.Tags = []string{}
	}
	return created, nil
}

func (a *Adapter) Update(ctx context.Context, p *catalog.Problem) error {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}

	result, err := a.db.ExecContext(ctx, `
		UPDATE problems SET title = ?, description = ?, input_description = ?,
			output_description = ?, constraints = ?, difficulty = ?, tags = ?,
			time_limit_ms = ?, memory_limit_mb = ?
		WHERE id = ?`,
		p.Title, p.Description, p.InputDescription, p.OutputDescription,
		p.Constraints, p.Difficulty, tags, p.TimeLimitMs, p.MemoryLimitMb, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update problem %d: %w", p.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update problem %d: %w", p.ID, err)
	}
	if n == 0 {
		return errors.NotFoundError(fmt.Sprintf("problem %d", p.ID))
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM problems WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete problem %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete problem %d: %w", id, err)
	}
	return n > 0, nil
}

// Quotas returns the chat quota view of the users table.
func (a *Adapter) Quotas() ratelimit.Store {
	return &quotaStore{db: a.db}
}

type quotaStore struct {
	db *sql.DB
}

// Update runs in an immediate transaction, which holds the database write
// lock from the first read to the commit.
func (s *quotaStore) Update(ctx context.Context, userID int64, fn ratelimit.UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", userID, err)
	}

	state, err := readState(tx.QueryRowContext(ctx,
		`SELECT chat_count_week, last_chat_reset FROM users WHERE id = ?`, userID))
	if err != nil {
		return fmt.Errorf("failed to read quota for user %d: %w", userID, err)
	}

	next, write, err := fn(state)
	if err != nil {
		return err
	}
	if write {
		var lastReset interface{}
		if !next.LastReset.IsZero() {
			lastReset = next.LastReset.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET chat_count_week = ?, last_chat_reset = ? WHERE id = ?`,
			next.Debt, lastReset, userID,
		); err != nil {
			return fmt.Errorf("failed to write quota for user %d: %w", userID, err)
		}
	}

	return tx.Commit()
}

func (s *quotaStore) Get(ctx context.Context, userID int64) (ratelimit.State, error) {
	state, err := readState(s.db.QueryRowContext(ctx,
		`SELECT chat_count_week, last_chat_reset FROM users WHERE id = ?`, userID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return ratelimit.State{}, nil
	}
	if err != nil {
		return ratelimit.State{}, fmt.Errorf("failed to read quota for user %d: %w", userID, err)
	}
	return state, nil
}

func (s *quotaStore) Reset(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET chat_count_week = 0, last_chat_reset = NULL WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset quota for user %d: %w", userID, err)
	}
	return nil
}

func readState(row *sql.Row) (ratelimit.State, error) {
	var (
		state     ratelimit.State
		lastReset sql.NullTime
	)
	if err := row.Scan(&state.Debt, &lastReset); err != nil {
		return ratelimit.State{}, err
	}
	if lastReset.Valid {
		state.LastReset = lastReset.Time
	}
	return state, nil
}

func (a *Adapter) SaveMessage(ctx context.Context, msg chat.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.UserID, msg.Role, msg.Content, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

func (a *Adapter) RecentMessages(ctx context.Context, userID int64, limit int) ([]chat.Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT user_id, role, content, created_at FROM chat_messages
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
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

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
