package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"botmarket/core/fault"
	"botmarket/events"
	"botmarket/observability"
)

// DefaultTTL is how long an OPEN job stays claimable before the expiry sweep
// may retire it.
const DefaultTTL = 72 * time.Hour

// CreateInput carries the validated fields for a new job.
type CreateInput struct {
	Title           string
	Description     string
	Tags            []string
	BountyUSDC      float64
	RequesterWallet string
}

// Service is the authoritative state-machine enforcer. It is the only mutator
// of job state; every transition re-reads the stored status through the
// store's CompareAndSet and never trusts a caller-supplied current state.
type Service struct {
	store   Store
	emitter events.Emitter
	ttl     time.Duration
	nowFn   func() time.Time
	idFn    func() string
	metrics *observability.JobMetrics
}

// ServiceOption customises the service instance.
type ServiceOption func(*Service)

// WithTTL overrides the open-job lifetime used to derive expiresAt.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the time source. Primarily for deterministic tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// NewService wires the state machine with its store and event emitter.
// Passing a nil emitter disables event publication.
func NewService(store Store, emitter events.Emitter, opts ...ServiceOption) *Service {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	svc := &Service{
		store:   store,
		emitter: emitter,
		ttl:     DefaultTTL,
		nowFn:   func() time.Time { return time.Now().UTC() },
		idFn:    newJobID,
		metrics: observability.Jobs(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func newJobID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("jobs: id entropy unavailable: %v", err))
	}
	return "job_" + hex.EncodeToString(buf[:])
}

// Create inserts a new PENDING_DEPOSIT job. The atomic bounty is computed
// once here and never recomputed.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Job, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > TitleMaxLen {
		return nil, fault.New(fault.KindValidation, "title must be 1-200 characters")
	}
	desc := strings.TrimSpace(input.Description)
	if desc == "" || len(desc) > DescriptionMaxLen {
		return nil, fault.New(fault.KindValidation, "description must be 1-5000 characters")
	}
	if !ValidWallet(input.RequesterWallet) {
		return nil, fault.New(fault.KindValidation, "invalid requester wallet address")
	}
	atomic := AtomicFromUSDC(input.BountyUSDC)
	if input.BountyUSDC <= 0 || atomic == 0 || atomic > AtomicFromUSDC(MaxBountyUSDC) {
		return nil, fault.New(fault.KindValidation, "bounty must be between 0.000001 and 1000 USDC")
	}
	now := s.nowFn()
	job := &Job{
		ID:              s.idFn(),
		Title:           title,
		Description:     desc,
		Tags:            append([]string(nil), input.Tags...),
		BountyUSDC:      input.BountyUSDC,
		BountyAtomic:    atomic,
		RequesterWallet: strings.TrimSpace(input.RequesterWallet),
		Status:          StatusPendingDeposit,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}
	if err := s.store.Insert(ctx, job); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, fault.Wrap(fault.KindInternal, "job id collision", err)
		}
		return nil, fault.Wrap(fault.KindInternal, "store job", err)
	}
	return job.Clone(), nil
}

// Get loads a job by id.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.New(fault.KindNotFound, "job not found")
		}
		return nil, fault.Wrap(fault.KindInternal, "load job", err)
	}
	return job, nil
}

// List returns jobs, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]*Job, error) {
	if status != "" && !status.Valid() {
		return nil, fault.New(fault.KindValidation, "unknown status filter")
	}
	list, err := s.store.List(ctx, status)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "list jobs", err)
	}
	return list, nil
}

// Activate moves PENDING_DEPOSIT -> OPEN once the escrow deposit has been
// verified, recording the deposit signature and publishing job.new.
func (s *Service) Activate(ctx context.Context, id, depositTxSig string) (*Job, error) {
	sig := strings.TrimSpace(depositTxSig)
	mut := Mutation{Status: StatusOpen}
	if sig != "" {
		mut.DepositTxSig = &sig
	}
	job, err := s.transition(ctx, id, StatusPendingDeposit, mut)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(NewJobEvent(job))
	return job, nil
}

// Claim moves OPEN -> CLAIMED, binding the worker. Concurrent claims race on
// the store's conditional update; exactly one wins.
func (s *Service) Claim(ctx context.Context, id, workerWallet string) (*Job, error) {
	worker := strings.TrimSpace(workerWallet)
	if !ValidWallet(worker) {
		return nil, fault.New(fault.KindValidation, "invalid worker wallet address")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if worker == current.RequesterWallet {
		return nil, fault.New(fault.KindValidation, "requester cannot claim own job")
	}
	now := s.nowFn()
	job, err := s.transition(ctx, id, StatusOpen, Mutation{
		Status:       StatusClaimed,
		WorkerWallet: &worker,
		ClaimedAt:    &now,
	})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(NewClaimedEvent(job))
	return job, nil
}

// Complete moves CLAIMED -> COMPLETED, storing the result. Only the bound
// worker may deliver.
func (s *Service) Complete(ctx context.Context, id, workerWallet, result string) (*Job, error) {
	if result == "" || len(result) > ResultMaxLen {
		return nil, fault.New(fault.KindValidation, "result must be 1-100000 characters")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(workerWallet) != current.WorkerWallet || current.WorkerWallet == "" {
		return nil, fault.New(fault.KindAuthorization, "only the assigned worker can complete this job")
	}
	now := s.nowFn()
	job, err := s.transition(ctx, id, StatusClaimed, Mutation{
		Status:      StatusCompleted,
		Result:      &result,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(NewCompletedEvent(job))
	return job, nil
}

// MarkPaid moves COMPLETED -> PAID with the settlement signature. Calling it
// on an already PAID job is an idempotent success returning the stored row;
// the second settlement path loses the race harmlessly.
func (s *Service) MarkPaid(ctx context.Context, id, txSig string) (*Job, error) {
	sig := strings.TrimSpace(txSig)
	if sig == "" {
		return nil, fault.New(fault.KindValidation, "payment transaction signature required")
	}
	now := s.nowFn()
	job, err := s.transition(ctx, id, StatusCompleted, Mutation{
		Status:       StatusPaid,
		PaymentTxSig: &sig,
		PaidAt:       &now,
	})
	if err != nil {
		if fault.Is(err, fault.KindStateError) {
			current, getErr := s.Get(ctx, id)
			if getErr == nil && current.Status == StatusPaid {
				return current, nil
			}
		}
		return nil, err
	}
	s.emitter.Emit(NewPaidEvent(job))
	return job, nil
}

// Cancel retires a PENDING_DEPOSIT or OPEN job at the requester's request.
// Escrow refunds for held deposits are the coordinator's concern.
func (s *Service) Cancel(ctx context.Context, id, requesterWallet string) (*Job, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(requesterWallet) != current.RequesterWallet {
		return nil, fault.New(fault.KindAuthorization, "only the requester can cancel this job")
	}
	switch current.Status {
	case StatusPendingDeposit, StatusOpen:
	default:
		return nil, fault.New(fault.KindStateError, "job can no longer be cancelled")
	}
	return s.transition(ctx, id, current.Status, Mutation{Status: StatusCancelled})
}

// Expire retires an OPEN job whose deadline has passed. Invoked by the
// background sweep; idempotent in the sense that a lost race is a state error
// the sweeper ignores.
func (s *Service) Expire(ctx context.Context, id string) (*Job, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusOpen {
		return nil, fault.New(fault.KindStateError, "only open jobs expire")
	}
	if s.nowFn().Before(current.ExpiresAt) {
		return nil, fault.New(fault.KindStateError, "job deadline not reached")
	}
	return s.transition(ctx, id, StatusOpen, Mutation{Status: StatusExpired})
}

func (s *Service) transition(ctx context.Context, id string, expected Status, mut Mutation) (*Job, error) {
	job, err := s.store.CompareAndSet(ctx, id, expected, mut)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, fault.New(fault.KindNotFound, "job not found")
		case errors.Is(err, ErrStateConflict):
			return nil, fault.New(fault.KindStateError, "transition not permitted from current state")
		default:
			return nil, fault.Wrap(fault.KindInternal, "update job", err)
		}
	}
	s.metrics.RecordTransition(string(job.Status))
	return job, nil
}
