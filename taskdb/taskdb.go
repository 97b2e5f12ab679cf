package taskdb

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// DB wraps the SQLite database backing the task HTTP API.
type DB struct {
	*sql.DB
}

// New opens (or creates) the database at path and ensures the schema exists.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

// TaskRow is one row of the tasks table. Nullable columns come back as empty
// strings.
type TaskRow struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	ProjectID   string `json:"projectId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	Status      string `json:"status"`
	DueDate     string `json:"dueDate,omitempty"`
}

// ListByGroup returns the group's task rows, newest insertion first.
func (db *DB) ListByGroup(ctx context.Context, groupID string) ([]TaskRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, group_id, project_id, name, description, assignee_id, status, due_date
		FROM tasks WHERE group_id = ? ORDER BY rowid DESC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []TaskRow{}
	for rows.Next() {
		var t TaskRow
		var projectID, description, assigneeID, dueDate sql.NullString
		if err := rows.Scan(&t.ID, &t.GroupID, &projectID, &t.Name, &description, &assigneeID, &t.Status, &dueDate); err != nil {
			return nil, err
		}
		t.ProjectID = projectID.String
		t.Description = description.String
		t.AssigneeID = assigneeID.String
		t.DueDate = dueDate.String
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Create inserts a task row, generating an id when the caller did not supply
// one, and returns the id.
func (db *DB) Create(ctx context.Context, t TaskRow) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (id, group_id, project_id, name, description, assignee_id, status, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.GroupID, nullable(t.ProjectID), t.Name, nullable(t.Description), nullable(t.AssigneeID), t.Status, nullable(t.DueDate))
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
