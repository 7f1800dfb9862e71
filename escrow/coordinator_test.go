package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"botmarket/chain"
	"botmarket/core/fault"
	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/storage/memory"
)

const (
	requesterA     = "So11111111111111111111111111111111111111112"
	workerB        = "SysvarRent111111111111111111111111111111111"
	escrowWallet   = "Vote111111111111111111111111111111111111111"
	platformWallet = "Stake11111111111111111111111111111111111111"
	usdcMint       = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// mockChain records submitted transfers and serves canned confirmed
// transactions per signature.
type mockChain struct {
	mu          sync.Mutex
	txs         map[string]*chain.ConfirmedTransaction
	submitted   [][]chain.Transfer
	nextSig     int
	submitErr   error
	lastBuilt   []chain.Transfer
	buildCalled int
}

func newMockChain() *mockChain {
	return &mockChain{txs: make(map[string]*chain.ConfirmedTransaction)}
}

// deposit registers a confirmed transaction crediting the escrow wallet.
func (m *mockChain) deposit(sig string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[sig] = &chain.ConfirmedTransaction{
		Signature:         sig,
		PostTokenBalances: []chain.TokenBalance{{Owner: escrowWallet, Mint: usdcMint, Amount: amount}},
	}
}

func (m *mockChain) SubmitTransaction(_ context.Context, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.nextSig++
	sig := fmt.Sprintf("sig-release-%d", m.nextSig)
	m.submitted = append(m.submitted, m.lastBuilt)
	m.txs[sig] = &chain.ConfirmedTransaction{Signature: sig}
	return sig, nil
}

func (m *mockChain) ConfirmTransaction(context.Context, string) error { return nil }

func (m *mockChain) GetConfirmedTransaction(_ context.Context, sig string) (*chain.ConfirmedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[sig]
	if !ok {
		return nil, errors.New("transaction not found")
	}
	return tx, nil
}

func (m *mockChain) AssociatedTokenAccount(owner, _ string) (string, error) { return owner, nil }

func (m *mockChain) LatestBlockhash(context.Context) (string, error) { return "blockhash", nil }

func (m *mockChain) BuildTransfer(_ context.Context, transfers []chain.Transfer) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildCalled++
	m.lastBuilt = append([]chain.Transfer(nil), transfers...)
	return []byte("raw-tx"), nil
}

type fixture struct {
	svc   *jobs.Service
	coord *escrow.Coordinator
	chain *mockChain
}

func newFixture(t *testing.T, feeBps uint32) *fixture {
	t.Helper()
	mock := newMockChain()
	svc := jobs.NewService(memory.NewJobStore(), nil)
	cfg := escrow.Config{
		EscrowWallet:   escrowWallet,
		AssetMint:      usdcMint,
		FeeBasisPoints: feeBps,
	}
	if feeBps > 0 {
		cfg.PlatformWallet = platformWallet
	}
	coord := escrow.NewCoordinator(memory.NewEscrowLedger(), mock, mock, svc, cfg)
	return &fixture{svc: svc, coord: coord, chain: mock}
}

func (f *fixture) completedJob(t *testing.T, bounty float64) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.svc.Create(ctx, jobs.CreateInput{
		Title: "t", Description: "d", BountyUSDC: bounty, RequesterWallet: requesterA,
	})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, job.ID, "sig-deposit-"+job.ID)
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, job.ID, workerB)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, job.ID, workerB, "RESULT")
	require.NoError(t, err)
	return job
}

func TestSplit(t *testing.T) {
	worker, fee := escrow.Split(100_000, 500)
	require.Equal(t, uint64(95_000), worker)
	require.Equal(t, uint64(5_000), fee)

	// Remainder of the integer division stays with the worker.
	worker, fee = escrow.Split(101, 500)
	require.Equal(t, uint64(96), worker)
	require.Equal(t, uint64(5), fee)

	worker, fee = escrow.Split(100_000, 0)
	require.Equal(t, uint64(100_000), worker)
	require.Equal(t, uint64(0), fee)
}

func TestFeeBasisPointsFromPercent(t *testing.T) {
	require.Equal(t, uint32(0), escrow.FeeBasisPointsFromPercent(0))
	require.Equal(t, uint32(500), escrow.FeeBasisPointsFromPercent(5))
	require.Equal(t, uint32(250), escrow.FeeBasisPointsFromPercent(2.5))
	require.Equal(t, uint32(10_000), escrow.FeeBasisPointsFromPercent(150))
}

func TestVerifyDeposit(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.chain.deposit("sig-X", 100_000)

	rec, err := f.coord.VerifyDeposit(ctx, "job_1", requesterA, 100_000, "sig-X")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusHeld, rec.Status)
	require.Equal(t, uint64(100_000), rec.AmountAtomic)

	_, held := f.coord.Held(ctx, "job_1")
	require.True(t, held)
}

func TestVerifyDeposit_Underfunded(t *testing.T) {
	f := newFixture(t, 0)
	f.chain.deposit("sig-X", 99_999)

	_, err := f.coord.VerifyDeposit(context.Background(), "job_1", requesterA, 100_000, "sig-X")
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.KindPaymentInvalid))
}

func TestVerifyDeposit_ReplayAcrossJobs(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.chain.deposit("sig-X", 100_000)

	_, err := f.coord.VerifyDeposit(ctx, "job_1", requesterA, 100_000, "sig-X")
	require.NoError(t, err)

	_, err = f.coord.VerifyDeposit(ctx, "job_2", requesterA, 100_000, "sig-X")
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.KindPaymentInvalid))
	require.Contains(t, fault.MessageOf(err), "already used")
}

func TestVerifyDeposit_UnknownTransaction(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.coord.VerifyDeposit(context.Background(), "job_1", requesterA, 100_000, "sig-missing")
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.KindPaymentBackend))
}

func TestReleaseToWorker_FeeSplit(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()

	job := f.completedJob(t, 0.1)
	f.chain.deposit("sig-X", job.BountyAtomic)
	_, err := f.coord.VerifyDeposit(ctx, job.ID, requesterA, job.BountyAtomic, "sig-X")
	require.NoError(t, err)

	sig, err := f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	require.Len(t, f.chain.submitted, 1)
	legs := f.chain.submitted[0]
	require.Equal(t, []chain.Transfer{
		{Recipient: workerB, AmountAtomic: 95_000},
		{Recipient: platformWallet, AmountAtomic: 5_000},
	}, legs)

	paid, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPaid, paid.Status)
	require.Equal(t, sig, paid.PaymentTxSig)

	rec, err := f.coord.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, rec.Status)
	require.Equal(t, sig, rec.ReleaseTxSig)
}

func TestReleaseToWorker_NoFee(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	job := f.completedJob(t, 0.1)
	f.chain.deposit("sig-X", job.BountyAtomic)
	_, err := f.coord.VerifyDeposit(ctx, job.ID, requesterA, job.BountyAtomic, "sig-X")
	require.NoError(t, err)

	_, err = f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.NoError(t, err)

	require.Len(t, f.chain.submitted, 1)
	require.Equal(t, []chain.Transfer{{Recipient: workerB, AmountAtomic: 100_000}}, f.chain.submitted[0])
}

func TestReleaseToWorker_SecondCallReconciles(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	job := f.completedJob(t, 0.1)
	f.chain.deposit("sig-X", job.BountyAtomic)
	_, err := f.coord.VerifyDeposit(ctx, job.ID, requesterA, job.BountyAtomic, "sig-X")
	require.NoError(t, err)

	first, err := f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.NoError(t, err)

	second, err := f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.chain.buildCalled, "no second on-chain transfer")
}

func TestRefundToRequester(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()

	f.chain.deposit("sig-X", 100_000)
	_, err := f.coord.VerifyDeposit(ctx, "job_1", requesterA, 100_000, "sig-X")
	require.NoError(t, err)

	sig, err := f.coord.RefundToRequester(ctx, "job_1")
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	// Full amount back, no fee taken on refund.
	require.Len(t, f.chain.submitted, 1)
	require.Equal(t, []chain.Transfer{{Recipient: requesterA, AmountAtomic: 100_000}}, f.chain.submitted[0])

	rec, err := f.coord.Get(ctx, "job_1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, rec.Status)
}

func TestRefundIfHeld_NoEscrowIsNoop(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.coord.RefundIfHeld(context.Background(), "job_unknown"))
	require.Zero(t, f.chain.buildCalled)
}

func TestRefundIfHeld_AfterRelease(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	job := f.completedJob(t, 0.1)
	f.chain.deposit("sig-X", job.BountyAtomic)
	_, err := f.coord.VerifyDeposit(ctx, job.ID, requesterA, job.BountyAtomic, "sig-X")
	require.NoError(t, err)
	_, err = f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.NoError(t, err)

	require.NoError(t, f.coord.RefundIfHeld(ctx, job.ID))
	require.Equal(t, 1, f.chain.buildCalled, "released escrow is never refunded")
}

func TestReleaseToWorker_ChainFailure(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	job := f.completedJob(t, 0.1)
	f.chain.deposit("sig-X", job.BountyAtomic)
	_, err := f.coord.VerifyDeposit(ctx, job.ID, requesterA, job.BountyAtomic, "sig-X")
	require.NoError(t, err)

	f.chain.submitErr = errors.New("rpc unavailable")
	_, err = f.coord.ReleaseToWorker(ctx, job.ID, workerB)
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.KindPaymentBackend))

	// Escrow stays held so a retry can settle.
	_, held := f.coord.Held(ctx, job.ID)
	require.True(t, held)
	current, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, current.Status)
}
