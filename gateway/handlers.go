package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"botmarket/core/fault"
	"botmarket/core/jobs"
)

// previewLen bounds the result excerpt exposed by the verify endpoint.
const previewLen = 200

type createJobRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags,omitempty"`
	BountyUSDC      float64  `json:"bountyUsdc"`
	RequesterWallet string   `json:"requesterWallet"`
}

type depositInstructions struct {
	DepositTo    string `json:"depositTo"`
	Asset        string `json:"asset"`
	AmountAtomic uint64 `json:"amountAtomic"`
	Instructions string `json:"instructions"`
}

type createJobResponse struct {
	Job    *jobs.Job           `json:"job"`
	Escrow depositInstructions `json:"escrow"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	job, err := s.service.Create(r.Context(), jobs.CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		Tags:            req.Tags,
		BountyUSDC:      req.BountyUSDC,
		RequesterWallet: req.RequesterWallet,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createJobResponse{
		Job: job,
		Escrow: depositInstructions{
			DepositTo:    s.cfg.EscrowWallet,
			Asset:        s.cfg.AssetMint,
			AmountAtomic: job.BountyAtomic,
			Instructions: fmt.Sprintf("Transfer %d atomic units of %s to %s, then POST the transaction signature to /api/v1/jobs/%s/deposit", job.BountyAtomic, s.cfg.AssetMint, s.cfg.EscrowWallet, job.ID),
		},
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := jobs.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	list, err := s.service.List(r.Context(), status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

func (s *Server) handleListOpenJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.List(r.Context(), jobs.StatusOpen)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

type depositRequest struct {
	DepositTxSig string `json:"depositTxSig"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req depositRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if job.Status != jobs.StatusPendingDeposit {
		writeError(w, s.logger, fault.New(fault.KindStateError, "transition not permitted from current state"))
		return
	}
	if _, err := s.coordinator.VerifyDeposit(r.Context(), job.ID, job.RequesterWallet, job.BountyAtomic, req.DepositTxSig); err != nil {
		writeError(w, s.logger, err)
		return
	}
	activated, err := s.service.Activate(r.Context(), job.ID, strings.TrimSpace(req.DepositTxSig))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": activated})
}

// handleDemoActivate skips on-chain verification. Mounted only in demo mode.
func (s *Server) handleDemoActivate(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Activate(r.Context(), chi.URLParam(r, "id"), "")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Warn("job activated without deposit verification", "jobId", job.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

type cancelRequest struct {
	RequesterWallet string `json:"requesterWallet"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	job, err := s.service.Cancel(r.Context(), id, req.RequesterWallet)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.coordinator.RefundIfHeld(r.Context(), id); err != nil {
		// The job is cancelled; the held escrow stays visible on the admin
		// surface until the refund is retried there.
		s.logger.Error("refund after cancellation failed", "jobId", id, "error", err)
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

type claimRequest struct {
	WorkerWallet string `json:"workerWallet"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	job, err := s.service.Claim(r.Context(), chi.URLParam(r, "id"), req.WorkerWallet)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

type completeRequest struct {
	WorkerWallet string `json:"workerWallet"`
	Result       string `json:"result"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	job, err := s.service.Complete(r.Context(), chi.URLParam(r, "id"), req.WorkerWallet, req.Result)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

type verifyResponse struct {
	ResultHash   string `json:"resultHash"`
	ResultLength int    `json:"resultLength"`
	Preview      string `json:"preview"`
	Payment      struct {
		BountyUSDC      float64 `json:"bountyUsdc"`
		PaymentEndpoint string  `json:"paymentEndpoint"`
	} `json:"payment"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if job.Result == "" {
		writeError(w, s.logger, fault.New(fault.KindStateError, "transition not permitted from current state"))
		return
	}
	resp := verifyResponse{
		ResultHash:   hashHex(job.Result),
		ResultLength: len(job.Result),
		Preview:      preview(job.Result),
	}
	resp.Payment.BountyUSDC = job.BountyUSDC
	resp.Payment.PaymentEndpoint = "/api/v1/results/" + job.ID
	writeJSON(w, http.StatusOK, resp)
}

type verifyHashRequest struct {
	ExpectedHash string `json:"expectedHash"`
}

func (s *Server) handleVerifyHash(w http.ResponseWriter, r *http.Request) {
	var req verifyHashRequest
	if !decodeBody(w, r, &req, s) {
		return
	}
	expected := strings.TrimSpace(req.ExpectedHash)
	if expected == "" {
		writeError(w, s.logger, fault.New(fault.KindValidation, "expected hash required"))
		return
	}
	job, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if job.Result == "" {
		writeError(w, s.logger, fault.New(fault.KindStateError, "transition not permitted from current state"))
		return
	}
	matches := strings.EqualFold(expected, hashHex(job.Result))
	writeJSON(w, http.StatusOK, map[string]bool{"hashMatches": matches})
}

type adminStats struct {
	Uptime        string         `json:"uptime"`
	Jobs          map[string]int `json:"jobs"`
	Escrow        map[string]int `json:"escrow"`
	EventsDropped uint64         `json:"eventsDropped"`
	GeneratedAt   time.Time      `json:"generatedAt"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.service.List(r.Context(), "")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	jobCounts := make(map[string]int)
	for _, job := range all {
		jobCounts[string(job.Status)]++
	}
	escrowCounts := make(map[string]int)
	if records, err := s.coordinator.List(r.Context()); err == nil {
		for _, rec := range records {
			escrowCounts[string(rec.Status)]++
		}
	}
	now := time.Now().UTC()
	stats := adminStats{
		Uptime:      now.Sub(s.startedAt).Round(time.Second).String(),
		Jobs:        jobCounts,
		Escrow:      escrowCounts,
		GeneratedAt: now,
	}
	if s.bus != nil {
		stats.EventsDropped = s.bus.Dropped()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminEscrows(w http.ResponseWriter, r *http.Request) {
	records, err := s.coordinator.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": records})
}

// decodeBody parses the JSON request body, writing the validation error
// itself. Returns false when the handler should stop.
func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}, s *Server) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		writeError(w, s.logger, fault.New(fault.KindValidation, "invalid request body"))
		return false
	}
	return true
}

func hashHex(result string) string {
	sum := sha256.Sum256([]byte(result))
	return hex.EncodeToString(sum[:])
}

func preview(result string) string {
	if len(result) <= previewLen {
		return result
	}
	// Back up to a rune boundary so the excerpt never ends mid-character.
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(result[cut]) {
		cut--
	}
	return result[:cut]
}
