package jobs

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by stores when no job exists for the id.
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned by Insert when the id is already taken.
	ErrExists = errors.New("job id already exists")
	// ErrStateConflict is returned by CompareAndSet when the stored status
	// does not match the expected one.
	ErrStateConflict = errors.New("job status changed concurrently")
)

// Store is the persistent system of record for jobs. CompareAndSet is the
// only mutation primitive; every lifecycle transition goes through it so that
// concurrent transitions on one job serialize without an external lock.
type Store interface {
	// Insert persists a new job, failing with ErrExists on id collision.
	Insert(ctx context.Context, job *Job) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs ordered by creation time descending, optionally
	// filtered by status (empty status returns all).
	List(ctx context.Context, status Status) ([]*Job, error)

	// CompareAndSet applies the mutation iff the stored status equals
	// expected, returning the updated row. It fails with ErrStateConflict
	// when the status moved, or ErrNotFound.
	CompareAndSet(ctx context.Context, id string, expected Status, mut Mutation) (*Job, error)
}
