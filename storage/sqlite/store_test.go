package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleJob(id string) *jobs.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &jobs.Job{
		ID:              id,
		Title:           "t",
		Description:     "d",
		Tags:            []string{"analysis", "batch"},
		BountyUSDC:      0.1,
		BountyAtomic:    100_000,
		RequesterWallet: "So11111111111111111111111111111111111111112",
		Status:          jobs.StatusPendingDeposit,
		CreatedAt:       now,
		ExpiresAt:       now.Add(72 * time.Hour),
	}
}

func TestJobStore_RoundTrip(t *testing.T) {
	store := openStore(t).Jobs()
	ctx := context.Background()

	inserted := sampleJob("job_1")
	require.NoError(t, store.Insert(ctx, inserted))
	require.ErrorIs(t, store.Insert(ctx, sampleJob("job_1")), jobs.ErrExists)

	got, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	require.Equal(t, inserted.Title, got.Title)
	require.Equal(t, inserted.BountyAtomic, got.BountyAtomic)
	require.Equal(t, inserted.Tags, got.Tags)
	require.Equal(t, jobs.StatusPendingDeposit, got.Status)
	require.Nil(t, got.ClaimedAt)

	_, err = store.Get(ctx, "job_missing")
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_CompareAndSet(t *testing.T) {
	store := openStore(t).Jobs()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleJob("job_1")))

	worker := "SysvarRent111111111111111111111111111111111"
	now := time.Now().UTC().Truncate(time.Second)

	opened, err := store.CompareAndSet(ctx, "job_1", jobs.StatusPendingDeposit, jobs.Mutation{Status: jobs.StatusOpen})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusOpen, opened.Status)

	claimed, err := store.CompareAndSet(ctx, "job_1", jobs.StatusOpen, jobs.Mutation{
		Status:       jobs.StatusClaimed,
		WorkerWallet: &worker,
		ClaimedAt:    &now,
	})
	require.NoError(t, err)
	require.Equal(t, worker, claimed.WorkerWallet)
	require.NotNil(t, claimed.ClaimedAt)

	_, err = store.CompareAndSet(ctx, "job_1", jobs.StatusOpen, jobs.Mutation{Status: jobs.StatusClaimed})
	require.ErrorIs(t, err, jobs.ErrStateConflict)

	_, err = store.CompareAndSet(ctx, "job_missing", jobs.StatusOpen, jobs.Mutation{Status: jobs.StatusClaimed})
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_ListOrderAndFilter(t *testing.T) {
	store := openStore(t).Jobs()
	ctx := context.Background()

	older := sampleJob("job_a")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := sampleJob("job_b")
	newer.Status = jobs.StatusOpen
	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, newer))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "job_b", all[0].ID, "newest first")

	open, err := store.List(ctx, jobs.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "job_b", open[0].ID)
}

func heldRecord(jobID, sig string) *escrow.Record {
	return &escrow.Record{
		JobID:           jobID,
		RequesterWallet: "So11111111111111111111111111111111111111112",
		AmountAtomic:    100_000,
		DepositTxSig:    sig,
		Status:          escrow.StatusHeld,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestEscrowLedger_CreateHeldReplay(t *testing.T) {
	ledger := openStore(t).Escrow()
	ctx := context.Background()

	require.NoError(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-X")))
	require.ErrorIs(t, ledger.CreateHeld(ctx, heldRecord("job_2", "sig-X")), escrow.ErrDepositUsed)
	require.ErrorIs(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-Y")), escrow.ErrExists)

	// The rejected inserts must not leave partial rows behind.
	_, err := ledger.Get(ctx, "job_2")
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestEscrowLedger_Settle(t *testing.T) {
	ledger := openStore(t).Escrow()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-X")))

	rec, err := ledger.MarkReleased(ctx, "job_1", "SysvarRent111111111111111111111111111111111", "sig-R", now)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, rec.Status)
	require.Equal(t, "sig-R", rec.ReleaseTxSig)
	require.NotNil(t, rec.ReleasedAt)

	_, err = ledger.MarkRefunded(ctx, "job_1", "sig-F", now)
	require.ErrorIs(t, err, escrow.ErrNotHeld)

	_, err = ledger.MarkRefunded(ctx, "job_missing", "sig-F", now)
	require.ErrorIs(t, err, escrow.ErrNotFound)

	records, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
