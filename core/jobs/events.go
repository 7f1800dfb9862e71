package jobs

import (
	"strconv"

	"botmarket/events"
)

const (
	EventTypeJobNew       = "job.new"
	EventTypeJobClaimed   = "job.claimed"
	EventTypeJobCompleted = "job.completed"
	EventTypeJobPaid      = "job.paid"
)

// NewJobEvent returns the canonical payload published when a job opens for
// claiming.
func NewJobEvent(j *Job) events.Event { return newJobEvent(EventTypeJobNew, j) }

// NewClaimedEvent returns the payload published when a worker claims a job.
func NewClaimedEvent(j *Job) events.Event { return newJobEvent(EventTypeJobClaimed, j) }

// NewCompletedEvent returns the payload published when a result is delivered.
func NewCompletedEvent(j *Job) events.Event { return newJobEvent(EventTypeJobCompleted, j) }

// NewPaidEvent returns the payload published when settlement lands.
func NewPaidEvent(j *Job) events.Event { return newJobEvent(EventTypeJobPaid, j) }

func newJobEvent(eventType string, j *Job) events.Event {
	data := make(map[string]string)
	if j == nil {
		return events.New(eventType, data)
	}
	data["jobId"] = j.ID
	data["title"] = j.Title
	data["status"] = string(j.Status)
	data["bountyAtomic"] = strconv.FormatUint(j.BountyAtomic, 10)
	data["requesterWallet"] = j.RequesterWallet
	if j.WorkerWallet != "" {
		data["workerWallet"] = j.WorkerWallet
	}
	if j.PaymentTxSig != "" {
		data["paymentTxSig"] = j.PaymentTxSig
	}
	return events.New(eventType, data)
}
