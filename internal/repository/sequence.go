package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Entity kinds with their own monotonically increasing id sequence.
const (
	seqWorkspace = "workspace"
	seqDocument  = "document"
	seqProject   = "project"
	seqTask      = "task"
	seqPlan      = "plan"
)

// nextSequence allocates the next id for an entity kind inside the caller's
// transaction. Each registry owns its sequence row; the raw counter is never
// exposed outside this package.
func nextSequence(ctx context.Context, tx *sqlx.Tx, kind string) (int64, error) {
	const query = `INSERT INTO id_sequences (kind, value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET value = id_sequences.value + 1
		RETURNING value`
	var id int64
	if err := tx.GetContext(ctx, &id, query, kind); err != nil {
		return 0, fmt.Errorf("next %s id: %w", kind, err)
	}
	return id, nil
}
