package async

import (
	"database/sql"
)

// JobScanArgs holds the nullable columns of a job row while scanning
type JobScanArgs struct {
	Payload     sql.NullString
	Stage       sql.NullString
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&job.Source,
		&job.Status,
		&args.Payload,
		&args.Stage,
		&job.Progress.Current,
		&job.Progress.Total,
		&args.ErrorMsg,
		&job.RetryCount,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the nullable columns onto job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.Stage.Valid {
		job.Stage = args.Stage.String
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans one row from a *sql.Row or *sql.Rows
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args JobScanArgs
	if err := row.Scan(GetJobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	ProcessJobScanArgs(&job, &args)
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, handler_name, source, status,
		payload, stage,
		progress_current, progress_total,
		error, retry_count,
		created_at, started_at, completed_at, updated_at`
}
