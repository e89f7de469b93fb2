package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/betbot/stockledger/internal/domain"
)

func (s *Store) InsertJobRun(ctx context.Context, jobName, trigger string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO job_runs (job_name, run_trigger, started_at)
VALUES (?,?,?)
`, jobName, trigger, fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) FinishJobRun(ctx context.Context, runID int64, ok bool, errMsg *string, metaJSON *string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE job_runs
SET finished_at=?, ok=?, error=?, meta_json=?
WHERE id=?
`, fmtTime(time.Now()), boolToInt(ok), errMsg, metaJSON, runID)
	return err
}

func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, job_name, run_trigger, started_at, finished_at, ok, error, meta_json
FROM job_runs
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobRun
	for rows.Next() {
		var (
			j          domain.JobRun
			startedAt  string
			finishedAt sql.NullString
			okVal      sql.NullInt64
			errStr     sql.NullString
			meta       sql.NullString
		)
		if err := rows.Scan(&j.ID, &j.JobName, &j.Trigger, &startedAt, &finishedAt, &okVal, &errStr, &meta); err != nil {
			return nil, err
		}
		j.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
				j.FinishedAt = &t
			}
		}
		if okVal.Valid {
			v := okVal.Int64 != 0
			j.OK = &v
		}
		if errStr.Valid {
			v := errStr.String
			j.Error = &v
		}
		if meta.Valid {
			v := meta.String
			j.MetaJSON = &v
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
