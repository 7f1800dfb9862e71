package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/storage/memory"
)

func sampleJob(id string, createdAt time.Time) *jobs.Job {
	return &jobs.Job{
		ID:              id,
		Title:           "t",
		Description:     "d",
		BountyUSDC:      0.1,
		BountyAtomic:    100_000,
		RequesterWallet: "So11111111111111111111111111111111111111112",
		Status:          jobs.StatusPendingDeposit,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(72 * time.Hour),
	}
}

func TestJobStore_InsertAndGet(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, sampleJob("job_1", now)))
	require.ErrorIs(t, store.Insert(ctx, sampleJob("job_1", now)), jobs.ErrExists)

	got, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	require.Equal(t, "job_1", got.ID)

	_, err = store.Get(ctx, "job_missing")
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_GetReturnsCopy(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleJob("job_1", time.Now().UTC())))

	first, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	require.Equal(t, "t", second.Title)
}

func TestJobStore_CompareAndSet(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleJob("job_1", time.Now().UTC())))

	updated, err := store.CompareAndSet(ctx, "job_1", jobs.StatusPendingDeposit, jobs.Mutation{Status: jobs.StatusOpen})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusOpen, updated.Status)

	_, err = store.CompareAndSet(ctx, "job_1", jobs.StatusPendingDeposit, jobs.Mutation{Status: jobs.StatusOpen})
	require.ErrorIs(t, err, jobs.ErrStateConflict)

	_, err = store.CompareAndSet(ctx, "job_missing", jobs.StatusOpen, jobs.Mutation{Status: jobs.StatusClaimed})
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_CompareAndSetConcurrent(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()
	job := sampleJob("job_1", time.Now().UTC())
	job.Status = jobs.StatusOpen
	require.NoError(t, store.Insert(ctx, job))

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wallet := "SysvarRent111111111111111111111111111111111"
			_, err := store.CompareAndSet(ctx, "job_1", jobs.StatusOpen, jobs.Mutation{
				Status:       jobs.StatusClaimed,
				WorkerWallet: &wallet,
			})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}

func TestJobStore_ListOrderAndFilter(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := sampleJob("job_a", base)
	newer := sampleJob("job_b", base.Add(time.Minute))
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
		CreatedAt:       time.Now().UTC(),
	}
}

func TestEscrowLedger_CreateHeldReplay(t *testing.T) {
	ledger := memory.NewEscrowLedger()
	ctx := context.Background()

	require.NoError(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-X")))
	require.ErrorIs(t, ledger.CreateHeld(ctx, heldRecord("job_2", "sig-X")), escrow.ErrDepositUsed)
	require.ErrorIs(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-Y")), escrow.ErrExists)
}

func TestEscrowLedger_Settle(t *testing.T) {
	ledger := memory.NewEscrowLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.CreateHeld(ctx, heldRecord("job_1", "sig-X")))

	rec, err := ledger.MarkReleased(ctx, "job_1", "SysvarRent111111111111111111111111111111111", "sig-R", now)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, rec.Status)
	require.Equal(t, "sig-R", rec.ReleaseTxSig)
	require.NotNil(t, rec.ReleasedAt)

	_, err = ledger.MarkReleased(ctx, "job_1", "w", "sig-R2", now)
	require.ErrorIs(t, err, escrow.ErrNotHeld)
	_, err = ledger.MarkRefunded(ctx, "job_1", "sig-F", now)
	require.ErrorIs(t, err, escrow.ErrNotHeld)

	_, err = ledger.MarkRefunded(ctx, "job_missing", "sig-F", now)
	require.ErrorIs(t, err, escrow.ErrNotFound)
}
