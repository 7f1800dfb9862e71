package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"botmarket/chain"
	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/observability"
)

// Config carries the chain parameters advertised in challenges.
type Config struct {
	Network      string
	AssetMint    string
	ChainTimeout time.Duration
}

// Paywall gates the result-retrieval endpoint. A COMPLETED job with held
// escrow settles through the coordinator; otherwise the caller is challenged
// for an inline payment to the worker.
type Paywall struct {
	service     *jobs.Service
	coordinator *escrow.Coordinator
	adapter     chain.Adapter
	cfg         Config
	logger      *slog.Logger
	metrics     *observability.PaywallMetrics
}

// NewPaywall wires the middleware with the job service, escrow coordinator,
// and chain access.
func NewPaywall(service *jobs.Service, coordinator *escrow.Coordinator, adapter chain.Adapter, cfg Config, logger *slog.Logger) *Paywall {
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paywall{
		service:     service,
		coordinator: coordinator,
		adapter:     adapter,
		cfg:         cfg,
		logger:      logger,
		metrics:     observability.Paywall(),
	}
}

// resultBody is the paid response payload.
type resultBody struct {
	JobID   string `json:"jobId"`
	Result  string `json:"result"`
	Payment struct {
		TxSig string `json:"txSig"`
	} `json:"payment"`
}

// ServeResult handles GET /results/{jobID}.
func (p *Paywall) ServeResult(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	job, err := p.service.Get(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch job.Status {
	case jobs.StatusPendingDeposit:
		writeError(w, http.StatusBadRequest, "job is awaiting its escrow deposit")
		return
	case jobs.StatusOpen:
		writeError(w, http.StatusBadRequest, "job has not been claimed yet")
		return
	case jobs.StatusClaimed:
		writeError(w, http.StatusBadRequest, "job result has not been delivered yet")
		return
	case jobs.StatusCancelled, jobs.StatusExpired:
		writeError(w, http.StatusGone, "job is no longer available")
		return
	case jobs.StatusPaid:
		p.writeResult(w, job, job.PaymentTxSig, nil)
		return
	case jobs.StatusCompleted:
	default:
		writeError(w, http.StatusInternalServerError, "unexpected job state")
		return
	}

	// Escrow settlement path: pre-funded jobs release on first retrieval.
	if _, held := p.coordinator.Held(ctx, job.ID); held {
		sig, err := p.coordinator.ReleaseToWorker(ctx, job.ID, job.WorkerWallet)
		if err != nil {
			p.logger.Error("escrow release during result retrieval failed", "jobId", job.ID, "error", err)
			writeError(w, http.StatusBadGateway, "escrow release failed")
			return
		}
		paid, err := p.service.Get(ctx, job.ID)
		if err != nil {
			paid = job
		}
		p.writeResult(w, paid, sig, p.breakdown(job))
		return
	}

	// Paywall settlement path.
	header := r.Header.Get(HeaderPayment)
	if header == "" {
		p.challenge(w, job)
		return
	}
	p.settleInline(ctx, w, job, header)
}

func (p *Paywall) challenge(w http.ResponseWriter, job *jobs.Job) {
	payload := PaymentRequired{
		Accepts: []Requirement{{
			Scheme:            SchemeExact,
			Network:           p.cfg.Network,
			MaxAmountRequired: strconv.FormatUint(job.BountyAtomic, 10),
			Asset:             p.cfg.AssetMint,
			PayTo:             job.WorkerWallet,
			Resource:          "/api/v1/results/" + job.ID,
			Description:       "Payment for job result " + job.ID,
		}},
		Breakdown: p.breakdown(job),
	}
	encoded, err := EncodeHeader(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	p.metrics.RecordChallenge()
	w.Header().Set(HeaderPaymentRequired, encoded)
	writeError(w, http.StatusPaymentRequired, "payment required to retrieve result")
}

func (p *Paywall) settleInline(ctx context.Context, w http.ResponseWriter, job *jobs.Job, header string) {
	var payload PaymentPayload
	if err := DecodeHeader(header, &payload); err != nil {
		p.rejectPayment(w, job, "malformed payment header")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payload.SerializedTransaction)
	if err != nil || len(raw) == 0 {
		p.rejectPayment(w, job, "malformed payment transaction")
		return
	}

	chainCtx, cancel := context.WithTimeout(ctx, p.cfg.ChainTimeout)
	defer cancel()
	sig, err := p.adapter.SubmitTransaction(chainCtx, raw)
	if err != nil {
		p.logger.Warn("paywall transaction submit failed", "jobId", job.ID, "error", err)
		p.rejectPayment(w, job, "payment transaction rejected by network")
		return
	}
	if err := p.adapter.ConfirmTransaction(chainCtx, sig); err != nil {
		p.rejectPayment(w, job, "payment transaction not confirmed")
		return
	}
	tx, err := p.adapter.GetConfirmedTransaction(chainCtx, sig)
	if err != nil {
		p.rejectPayment(w, job, "payment transaction not confirmed")
		return
	}
	required := p.coordinator.WorkerAmount(job.BountyAtomic)
	if tx.Err || tx.TokenDelta(job.WorkerWallet, p.cfg.AssetMint) < int64(required) {
		p.rejectPayment(w, job, "payment does not cover the bounty")
		return
	}

	// MarkPaid is idempotent; a racing settlement loses harmlessly and the
	// stored row comes back either way.
	updated, err := p.service.MarkPaid(ctx, job.ID, sig)
	if err != nil {
		p.logger.Error("paywall settlement persisted on-chain but markPaid failed", "jobId", job.ID, "txSig", sig, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	p.metrics.RecordPayment()
	p.logger.Info("paywall payment accepted", "jobId", job.ID, "txSig", sig)
	p.writeResult(w, updated, updated.PaymentTxSig, p.breakdown(job))
}

// rejectPayment re-issues the challenge so the client can retry; a 400 here
// would break the retry semantic.
func (p *Paywall) rejectPayment(w http.ResponseWriter, job *jobs.Job, message string) {
	p.metrics.RecordInvalid()
	payload := PaymentRequired{
		Accepts: []Requirement{{
			Scheme:            SchemeExact,
			Network:           p.cfg.Network,
			MaxAmountRequired: strconv.FormatUint(job.BountyAtomic, 10),
			Asset:             p.cfg.AssetMint,
			PayTo:             job.WorkerWallet,
			Resource:          "/api/v1/results/" + job.ID,
		}},
		Breakdown: p.breakdown(job),
	}
	if encoded, err := EncodeHeader(payload); err == nil {
		w.Header().Set(HeaderPaymentRequired, encoded)
	}
	writeError(w, http.StatusPaymentRequired, message)
}

func (p *Paywall) breakdown(job *jobs.Job) *Breakdown {
	amountAtomic := job.BountyAtomic
	fee := p.coordinator.PlatformFee(amountAtomic)
	worker := p.coordinator.WorkerAmount(amountAtomic)
	b := &Breakdown{
		Total:  strconv.FormatUint(amountAtomic, 10),
		Worker: Party{Address: job.WorkerWallet, Amount: strconv.FormatUint(worker, 10)},
	}
	if fee > 0 {
		percent := float64(p.coordinator.FeeBasisPoints()) / 100
		b.Platform = &Party{
			Address: p.coordinator.PlatformWallet(),
			Amount:  strconv.FormatUint(fee, 10),
			Percent: strconv.FormatFloat(percent, 'f', -1, 64),
		}
	}
	return b
}

func (p *Paywall) writeResult(w http.ResponseWriter, job *jobs.Job, txSig string, breakdown *Breakdown) {
	receipt := SettlementResponse{TxSig: txSig, Success: true, Breakdown: breakdown}
	if encoded, err := EncodeHeader(receipt); err == nil {
		w.Header().Set(HeaderPaymentResponse, encoded)
	}
	body := resultBody{JobID: job.ID, Result: job.Result}
	body.Payment.TxSig = txSig
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
