package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/art-gallery/api-go/internal/model"
)

type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Progress updates come from export goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS exports (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  status TEXT NOT NULL,
  total INTEGER NOT NULL DEFAULT 0,
  loaded INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  progress TEXT,
  message TEXT,
  output_key TEXT,
  error_message TEXT
);
`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const jobColumns = `id, session_id, created_at, updated_at, status, total, loaded, failed, progress, message, output_key, error_message`

func (s *SQLite) CreateJob(ctx context.Context, job model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (id, session_id, created_at, updated_at, status, total)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.SessionID,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
		string(job.Status),
		job.Total,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		job                               model.Job
		statusStr                         string
		createdMs, updatedMs              int64
		progress, message, output, errMsg sql.NullString
	)
	if err := row.Scan(&job.ID, &job.SessionID, &createdMs, &updatedMs, &statusStr,
		&job.Total, &job.Loaded, &job.Failed, &progress, &message, &output, &errMsg); err != nil {
		return model.Job{}, err
	}
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	job.Status = model.JobStatus(statusStr)
	job.Progress = progress.String
	job.Message = message.String
	job.OutputKey = output.String
	job.Error = errMsg.String
	return job, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM exports WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, model.ErrNotFound
		}
		return model.Job{}, err
	}
	return job, nil
}

func (s *SQLite) ListJobs(ctx context.Context, status *model.JobStatus, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT ` + jobColumns + ` FROM exports`
	args := []any{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateJob(ctx context.Context, id string, patch model.JobPatch) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE exports
         SET updated_at = ?,
             status = COALESCE(?, status),
             loaded = COALESCE(?, loaded),
             failed = COALESCE(?, failed),
             progress = COALESCE(?, progress),
             message = COALESCE(?, message),
             output_key = COALESCE(?, output_key),
             error_message = COALESCE(?, error_message)
         WHERE id = ?`,
		now,
		nullableString(patch.Status),
		nullableInt(patch.Loaded),
		nullableInt(patch.Failed),
		nullableString(patch.Progress),
		nullableString(patch.Message),
		nullableString(patch.OutputKey),
		nullableString(patch.Error),
		id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteJob removes the job once its result has been handed over.
func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailInterrupted marks jobs left queued or running by a previous process as
// failed and returns how many were touched.
func (s *SQLite) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exports SET status = ?, error_message = ?, progress = '', updated_at = ?
         WHERE status IN (?, ?)`,
		string(model.JobError), reason, time.Now().UnixMilli(),
		string(model.JobQueued), string(model.JobRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
