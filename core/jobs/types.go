package jobs

import (
	"math"
	"time"
)

// Status represents the lifecycle states of a marketplace job.
type Status string

const (
	StatusPendingDeposit Status = "PENDING_DEPOSIT"
	StatusOpen           Status = "OPEN"
	StatusClaimed        Status = "CLAIMED"
	StatusCompleted      Status = "COMPLETED"
	StatusPaid           Status = "PAID"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
)

// Valid reports whether the status value is within the supported set.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingDeposit, StatusOpen, StatusClaimed, StatusCompleted, StatusPaid, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a lifecycle sink.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

const (
	// AtomicPerUSDC is the number of atomic token units per display unit.
	AtomicPerUSDC = 1_000_000

	// MaxBountyUSDC bounds the bounty a requester may attach to a job.
	MaxBountyUSDC = 1000.0

	TitleMaxLen       = 200
	DescriptionMaxLen = 5000
	ResultMaxLen      = 100_000
)

// AtomicFromUSDC converts a display amount to atomic units. All payment
// comparisons after creation use the integer result, never the float input.
func AtomicFromUSDC(usdc float64) uint64 {
	return uint64(math.Round(usdc * AtomicPerUSDC))
}

// Job is the central marketplace entity. The result text is withheld from
// JSON encodings; it is only served through the paywalled result endpoint.
type Job struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Tags            []string   `json:"tags,omitempty"`
	BountyUSDC      float64    `json:"bountyUsdc"`
	BountyAtomic    uint64     `json:"bountyAtomic"`
	RequesterWallet string     `json:"requesterWallet"`
	WorkerWallet    string     `json:"workerWallet,omitempty"`
	Status          Status     `json:"status"`
	Result          string     `json:"-"`
	DepositTxSig    string     `json:"depositTxSig,omitempty"`
	PaymentTxSig    string     `json:"paymentTxSig,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	ExpiresAt       time.Time  `json:"expiresAt"`
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Tags != nil {
		clone.Tags = append([]string(nil), j.Tags...)
	}
	clone.ClaimedAt = cloneTime(j.ClaimedAt)
	clone.CompletedAt = cloneTime(j.CompletedAt)
	clone.PaidAt = cloneTime(j.PaidAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// Mutation describes the fields a CompareAndSet may change alongside the
// status. Nil pointers leave the current value untouched.
type Mutation struct {
	Status       Status
	WorkerWallet *string
	Result       *string
	DepositTxSig *string
	PaymentTxSig *string
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	PaidAt       *time.Time
}

// Apply copies the mutation onto the job in place.
func (m Mutation) Apply(j *Job) {
	j.Status = m.Status
	if m.WorkerWallet != nil {
		j.WorkerWallet = *m.WorkerWallet
	}
	if m.Result != nil {
		j.Result = *m.Result
	}
	if m.DepositTxSig != nil {
		j.DepositTxSig = *m.DepositTxSig
	}
	if m.PaymentTxSig != nil {
		j.PaymentTxSig = *m.PaymentTxSig
	}
	if m.ClaimedAt != nil {
		j.ClaimedAt = cloneTime(m.ClaimedAt)
	}
	if m.CompletedAt != nil {
		j.CompletedAt = cloneTime(m.CompletedAt)
	}
	if m.PaidAt != nil {
		j.PaidAt = cloneTime(m.PaidAt)
	}
}
