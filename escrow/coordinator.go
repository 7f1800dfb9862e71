package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"botmarket/chain"
	"botmarket/core/fault"
	"botmarket/core/jobs"
	"botmarket/observability"
)

// Settler is the slice of the job service the coordinator needs to converge
// the escrow settlement path onto the job lifecycle.
type Settler interface {
	MarkPaid(ctx context.Context, id, txSig string) (*jobs.Job, error)
}

// Config carries the chain-side parameters of the coordinator.
type Config struct {
	// EscrowWallet is the owner address receiving deposits.
	EscrowWallet string
	// PlatformWallet receives the fee split; empty disables fees.
	PlatformWallet string
	// AssetMint is the token mint all amounts are denominated in.
	AssetMint string
	// FeeBasisPoints of the bounty kept by the platform on release.
	FeeBasisPoints uint32
	// ChainTimeout bounds each submit/confirm round trip.
	ChainTimeout time.Duration
}

// Coordinator orchestrates deposit verification and escrow settlement. All
// chain work happens outside the ledger's critical section; a per-job mutex
// serializes the verify-sign-submit sequence so release and refund can never
// build two conflicting transactions from the same escrow balance.
type Coordinator struct {
	ledger  Ledger
	adapter chain.Adapter
	builder chain.TransferBuilder
	settler Settler
	cfg     Config
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
	nowFn   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// CoordinatorOption customises the coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithClock sets the time source used for ledger timestamps.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.nowFn = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator wires the coordinator with its ledger, chain access, and the
// job settler.
func NewCoordinator(ledger Ledger, adapter chain.Adapter, builder chain.TransferBuilder, settler Settler, cfg Config, opts ...CoordinatorOption) *Coordinator {
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = 60 * time.Second
	}
	c := &Coordinator{
		ledger:  ledger,
		adapter: adapter,
		builder: builder,
		settler: settler,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: observability.Escrow(),
		nowFn:   func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeeBasisPointsFromPercent converts the configured percentage to basis
// points for the integer split math.
func FeeBasisPointsFromPercent(percent float64) uint32 {
	if percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return uint32(percent * 100)
}

// Split computes the worker/platform division of an escrow amount. Integer
// division; the remainder stays with the worker.
func Split(amountAtomic uint64, feeBps uint32) (workerAmount, platformFee uint64) {
	platformFee = amountAtomic * uint64(feeBps) / 10_000
	workerAmount = amountAtomic - platformFee
	return workerAmount, platformFee
}

// WorkerAmount returns the portion of the bounty the worker keeps under the
// configured fee, accounting for a missing platform wallet.
func (c *Coordinator) WorkerAmount(amountAtomic uint64) uint64 {
	if c.cfg.PlatformWallet == "" || c.cfg.FeeBasisPoints == 0 {
		return amountAtomic
	}
	worker, _ := Split(amountAtomic, c.cfg.FeeBasisPoints)
	return worker
}

// PlatformFee returns the fee leg of the split, zero when fees are disabled.
func (c *Coordinator) PlatformFee(amountAtomic uint64) uint64 {
	if c.cfg.PlatformWallet == "" || c.cfg.FeeBasisPoints == 0 {
		return 0
	}
	_, fee := Split(amountAtomic, c.cfg.FeeBasisPoints)
	return fee
}

// PlatformWallet exposes the configured fee recipient.
func (c *Coordinator) PlatformWallet() string { return c.cfg.PlatformWallet }

// FeeBasisPoints exposes the configured fee in basis points.
func (c *Coordinator) FeeBasisPoints() uint32 { return c.cfg.FeeBasisPoints }

func (c *Coordinator) jobLock(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[jobID] = lock
	}
	return lock
}

// Held reports the escrow record for the job when one is currently held.
func (c *Coordinator) Held(ctx context.Context, jobID string) (*Record, bool) {
	rec, err := c.ledger.Get(ctx, jobID)
	if err != nil || rec == nil {
		return nil, false
	}
	if rec.Status != StatusHeld {
		return nil, false
	}
	return rec, true
}

// Get loads the escrow record for a job.
func (c *Coordinator) Get(ctx context.Context, jobID string) (*Record, error) {
	rec, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.New(fault.KindNotFound, "no escrow for job")
		}
		return nil, fault.Wrap(fault.KindInternal, "load escrow record", err)
	}
	return rec, nil
}

// List dumps the ledger for the admin surface.
func (c *Coordinator) List(ctx context.Context) ([]*Record, error) {
	recs, err := c.ledger.List(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list escrow records", err)
	}
	return recs, nil
}

// VerifyDeposit checks the claimed deposit transaction on-chain and, on
// success, atomically consumes the signature and creates a held record. The
// recipient and amount checks are authoritative; the sender is not enforced.
func (c *Coordinator) VerifyDeposit(ctx context.Context, jobID, requesterWallet string, expectedAtomic uint64, txSig string) (*Record, error) {
	sig := strings.TrimSpace(txSig)
	if sig == "" {
		return nil, fault.New(fault.KindValidation, "deposit transaction signature required")
	}
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := c.ledger.Get(ctx, jobID); err == nil && existing != nil {
		return nil, fault.New(fault.KindPaymentInvalid, "job already has an escrow deposit")
	}

	chainCtx, cancel := context.WithTimeout(ctx, c.cfg.ChainTimeout)
	defer cancel()
	tx, err := c.adapter.GetConfirmedTransaction(chainCtx, sig)
	if err != nil {
		c.metrics.RecordError("deposit", "fetch")
		return nil, fault.Wrap(fault.KindPaymentBackend, "deposit transaction not confirmed", err)
	}
	if tx.Err {
		return nil, fault.New(fault.KindPaymentInvalid, "deposit transaction failed on-chain")
	}
	delta := tx.TokenDelta(c.cfg.EscrowWallet, c.cfg.AssetMint)
	if delta < int64(expectedAtomic) {
		c.metrics.RecordError("deposit", "amount")
		return nil, fault.New(fault.KindPaymentInvalid, "deposit does not cover the bounty")
	}

	rec := &Record{
		JobID:           jobID,
		RequesterWallet: strings.TrimSpace(requesterWallet),
		AmountAtomic:    expectedAtomic,
		DepositTxSig:    sig,
		Status:          StatusHeld,
		CreatedAt:       c.nowFn(),
	}
	if err := c.ledger.CreateHeld(ctx, rec); err != nil {
		switch {
		case errors.Is(err, ErrDepositUsed):
			return nil, fault.New(fault.KindPaymentInvalid, "deposit transaction already used")
		case errors.Is(err, ErrExists):
			return nil, fault.New(fault.KindPaymentInvalid, "job already has an escrow deposit")
		default:
			return nil, fault.Wrap(fault.KindInternal, "persist escrow record", err)
		}
	}
	c.metrics.RecordDeposit(expectedAtomic)
	c.logger.Info("escrow deposit held", "jobId", jobID, "amountAtomic", expectedAtomic, "txSig", sig)
	return rec.Clone(), nil
}

// ReleaseToWorker settles a held escrow in favour of the worker, splitting
// the platform fee inside a single chain transaction, then converges the job
// onto PAID. A release whose markPaid loses the race is an idempotent
// success; a release that confirms but fails to persist keeps the record
// held with funds moved, surfacing the signature for reconciliation on the
// next attempt.
func (c *Coordinator) ReleaseToWorker(ctx context.Context, jobID, workerWallet string) (string, error) {
	worker := strings.TrimSpace(workerWallet)
	if worker == "" {
		return "", fault.New(fault.KindValidation, "worker wallet required for release")
	}
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fault.New(fault.KindNotFound, "no escrow for job")
		}
		return "", fault.Wrap(fault.KindInternal, "load escrow record", err)
	}
	if rec.Status == StatusReleased {
		// Reconciliation path: funds already moved, converge the job.
		if _, err := c.settler.MarkPaid(ctx, jobID, rec.ReleaseTxSig); err != nil {
			return "", err
		}
		return rec.ReleaseTxSig, nil
	}
	if rec.Status != StatusHeld {
		return "", fault.New(fault.KindStateError, "escrow is not held")
	}

	workerAmount := c.WorkerAmount(rec.AmountAtomic)
	platformFee := c.PlatformFee(rec.AmountAtomic)
	transfers := []chain.Transfer{{Recipient: worker, AmountAtomic: workerAmount}}
	if platformFee > 0 {
		transfers = append(transfers, chain.Transfer{Recipient: c.cfg.PlatformWallet, AmountAtomic: platformFee})
	}
	sig, err := c.submitTransfer(ctx, transfers)
	if err != nil {
		c.metrics.RecordError("release", "chain")
		return "", fault.Wrap(fault.KindPaymentBackend, "escrow release failed", err)
	}

	now := c.nowFn()
	if _, err := c.ledger.MarkReleased(ctx, jobID, worker, sig, now); err != nil {
		c.logger.Error("escrow released on-chain but ledger update failed", "jobId", jobID, "txSig", sig, "error", err)
		return "", fault.Wrap(fault.KindInternal, "record escrow release", err)
	}
	c.metrics.RecordSettlement("escrow", workerAmount, platformFee)
	c.logger.Info("escrow released", "jobId", jobID, "worker", worker,
		"workerAmount", workerAmount, "platformFee", platformFee, "txSig", sig)

	if _, err := c.settler.MarkPaid(ctx, jobID, sig); err != nil {
		// Funds moved and ledger says released; the record exposes the
		// signature and the next release attempt reconciles the job.
		c.logger.Error("escrow released but markPaid failed", "jobId", jobID, "txSig", sig, "error", err)
		return sig, err
	}
	return sig, nil
}

// RefundToRequester returns the full held amount to the requester, no fee.
func (c *Coordinator) RefundToRequester(ctx context.Context, jobID string) (string, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fault.New(fault.KindNotFound, "no escrow for job")
		}
		return "", fault.Wrap(fault.KindInternal, "load escrow record", err)
	}
	if rec.Status == StatusRefunded {
		return rec.ReleaseTxSig, nil
	}
	if rec.Status != StatusHeld {
		return "", fault.New(fault.KindStateError, "escrow is not held")
	}

	sig, err := c.submitTransfer(ctx, []chain.Transfer{{
		Recipient:    rec.RequesterWallet,
		AmountAtomic: rec.AmountAtomic,
	}})
	if err != nil {
		c.metrics.RecordError("refund", "chain")
		return "", fault.Wrap(fault.KindPaymentBackend, "escrow refund failed", err)
	}
	if _, err := c.ledger.MarkRefunded(ctx, jobID, sig, c.nowFn()); err != nil {
		c.logger.Error("escrow refunded on-chain but ledger update failed", "jobId", jobID, "txSig", sig, "error", err)
		return "", fault.Wrap(fault.KindInternal, "record escrow refund", err)
	}
	c.metrics.RecordRefund(rec.AmountAtomic)
	c.logger.Info("escrow refunded", "jobId", jobID, "requester", rec.RequesterWallet, "txSig", sig)
	return sig, nil
}

// RefundIfHeld refunds the job's escrow when one is held; missing or already
// settled records are a no-op. Used by cancellation and the expiry sweep.
func (c *Coordinator) RefundIfHeld(ctx context.Context, jobID string) error {
	if _, held := c.Held(ctx, jobID); !held {
		return nil
	}
	_, err := c.RefundToRequester(ctx, jobID)
	if err != nil && fault.Is(err, fault.KindStateError) {
		return nil
	}
	return err
}

func (c *Coordinator) submitTransfer(ctx context.Context, transfers []chain.Transfer) (string, error) {
	if c.builder == nil {
		return "", errors.New("escrow signing key not configured")
	}
	chainCtx, cancel := context.WithTimeout(ctx, c.cfg.ChainTimeout)
	defer cancel()
	raw, err := c.builder.BuildTransfer(chainCtx, transfers)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}
	sig, err := c.adapter.SubmitTransaction(chainCtx, raw)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	if err := c.adapter.ConfirmTransaction(chainCtx, sig); err != nil {
		return "", fmt.Errorf("confirm transfer %s: %w", sig, err)
	}
	return sig, nil
}
