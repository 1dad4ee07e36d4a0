package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// CheckpointRepository implements storage.CheckpointRepository on SQL.
type CheckpointRepository struct {
	db *DB
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// SaveCheckpoint upserts the checkpoint for a job type.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	checkpoint.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	query, args, err := r.db.builder.Insert("checkpoints").
		Columns("job_type", "last_id", "processed", "updated_at").
		Values(checkpoint.JobType, string(checkpoint.LastID), checkpoint.Processed, toMicros(checkpoint.UpdatedAt)).
		Suffix("ON CONFLICT (job_type) DO UPDATE SET last_id = excluded.last_id, processed = excluded.processed, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

// LoadCheckpoint retrieves the checkpoint for a job type.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, jobType string) (*core.Checkpoint, error) {
	query, args, err := r.db.builder.Select("last_id", "processed", "updated_at").
		From("checkpoints").
		Where(sq.Eq{"job_type": jobType}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var (
		lastID  string
		updated int64
	)
	checkpoint := &core.Checkpoint{JobType: jobType}
	err = r.db.db.QueryRowContext(ctx, query, args...).Scan(&lastID, &checkpoint.Processed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	checkpoint.LastID = core.ID(lastID)
	checkpoint.UpdatedAt = fromMicros(updated)
	return checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint for a job type.
func (r *CheckpointRepository) DeleteCheckpoint(ctx context.Context, jobType string) error {
	query, args, err := r.db.builder.Delete("checkpoints").Where(sq.Eq{"job_type": jobType}).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}
