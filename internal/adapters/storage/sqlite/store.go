// Package sqlite is a single-file backend for the task, chat log and project
// stores, for local use without a cloud project.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const service = "sqlite"

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements domain.TaskStore, domain.ChatLogStore and domain.ProjectStore.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewStore opens or creates the database at dbPath. A leading ~ is expanded.
func NewStore(dbPath string) (*Store, error) {
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, dbPath: dbPath, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		project_id TEXT NOT NULL,
		user_email TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deadline TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		order_index INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, user_email);

	CREATE TABLE IF NOT EXISTS chat_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		user_email TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_project ON chat_history(project_id, user_email);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT NOT NULL,
		user_email TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, user_email)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	return domain.NewNetworkError(service, op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// ─────────────────────────────────────────
// TaskStore implementation
// ─────────────────────────────────────────

func (s *Store) ListTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, project_id, user_email, created_at, deadline, completed, order_index
		FROM tasks
		WHERE project_id = ? AND user_email = ?
		ORDER BY order_index ASC, created_at ASC`,
		string(projectID), string(owner),
	)
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	defer rows.Close()

	out := []domain.Task{}
	for rows.Next() {
		var (
			t         domain.Task
			id, title string
			project   string
			email     string
			created   string
			deadline  sql.NullString
		)
		if err := rows.Scan(&id, &title, &project, &email, &created, &deadline, &t.Completed, &t.Position); err != nil {
			return nil, wrap("scan task", err)
		}
		t.ID = domain.TaskID(id)
		t.Title = title
		t.ProjectID = domain.ProjectID(project)
		t.OwnerEmail = domain.OwnerEmail(email)
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", id, err)
		}
		if deadline.Valid {
			d, err := parseTime(deadline.String)
			if err != nil {
				return nil, fmt.Errorf("decode deadline of %s: %w", id, err)
			}
			t.Deadline = &d
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list tasks", err)
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, in domain.NewTask) (*domain.Task, error) {
	t := domain.Task{
		ID:         domain.TaskID(uuid.NewString()),
		Title:      in.Title,
		ProjectID:  in.ProjectID,
		OwnerEmail: in.OwnerEmail,
		CreatedAt:  s.now().UTC(),
		Position:   in.Position,
	}
	var deadline sql.NullString
	if in.Deadline != nil {
		d := in.Deadline.UTC()
		t.Deadline = &d
		deadline = sql.NullString{String: formatTime(d), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, project_id, user_email, created_at, deadline, completed, order_index)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		string(t.ID), t.Title, string(t.ProjectID), string(t.OwnerEmail), formatTime(t.CreatedAt), deadline, t.Position,
	)
	if err != nil {
		return nil, wrap("create task", err)
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail, patch domain.TaskPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.SetDeadline {
		var deadline sql.NullString
		if patch.Deadline != nil {
			deadline = sql.NullString{String: formatTime(*patch.Deadline), Valid: true}
		}
		sets = append(sets, "deadline = ?")
		args = append(args, deadline)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, string(id), string(owner))

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_email = ?",
		args...,
	)
	return affectedOne("update task", res, err)
}

func (s *Store) DeleteTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = ? AND user_email = ?",
		string(id), string(owner),
	)
	return affectedOne("delete task", res, err)
}

func (s *Store) DeleteProjectTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE project_id = ? AND user_email = ?",
		string(projectID), string(owner),
	)
	return wrap("delete project tasks", err)
}

// ReorderTasks writes order_index for every listed task in one transaction.
func (s *Store) ReorderTasks(ctx context.Context, owner domain.OwnerEmail, order []domain.TaskID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("reorder tasks", err)
	}
	defer tx.Rollback()

	for pos, id := range order {
		res, err := tx.ExecContext(ctx,
			"UPDATE tasks SET order_index = ? WHERE id = ? AND user_email = ?",
			pos, string(id), string(owner),
		)
		if err := affectedOne("reorder tasks", res, err); err != nil {
			return err
		}
	}
	return wrap("reorder tasks", tx.Commit())
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ─────────────────────────────────────────
// ChatLogStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendChat(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail, msg domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (project_id, user_email, sender, text, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		string(projectID), string(owner), string(msg.Sender), msg.Text, formatTime(msg.Timestamp),
	)
	return wrap("append chat", err)
}

func (s *Store) ListChat(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, text, timestamp
		FROM chat_history
		WHERE project_id = ? AND user_email = ?
		ORDER BY timestamp ASC, seq ASC`,
		string(projectID), string(owner),
	)
	if err != nil {
		return nil, wrap("list chat", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		var sender, text, ts string
		if err := rows.Scan(&sender, &text, &ts); err != nil {
			return nil, wrap("scan chat", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("decode chat timestamp: %w", err)
		}
		out = append(out, domain.Message{Sender: domain.Sender(sender), Text: text, Timestamp: t})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list chat", err)
	}
	return out, nil
}

func (s *Store) DeleteChatByProject(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_history WHERE project_id = ? AND user_email = ?",
		string(projectID), string(owner),
	)
	return wrap("delete chat", err)
}

func (s *Store) DeleteChatByOwner(ctx context.Context, owner domain.OwnerEmail) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chat_history WHERE user_email = ?", string(owner))
	return wrap("delete all chat", err)
}

// ─────────────────────────────────────────
// ProjectStore implementation
// ─────────────────────────────────────────

func (s *Store) GetProject(ctx context.Context, owner domain.OwnerEmail, id domain.ProjectID) (*domain.Project, error) {
	p := domain.Project{ID: id, OwnerEmail: owner}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, description FROM projects WHERE id = ? AND user_email = ?",
		string(id), string(owner),
	).Scan(&p.Name, &p.Description)
	if err != nil {
		return nil, wrap("get project", err)
	}
	return &p, nil
}

func (s *Store) SaveProject(ctx context.Context, p *domain.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_email, name, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, user_email) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		string(p.ID), string(p.OwnerEmail), p.Name, p.Description, formatTime(s.now()),
	)
	return wrap("save project", err)
}
