package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"botmarket/core/fault"
)

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation, fault.KindStateError:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindPaymentRequired, fault.KindPaymentInvalid:
		return http.StatusPaymentRequired
	case fault.KindPaymentBackend:
		return http.StatusBadGateway
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// quotable is the closed set of messages allowed to reach clients verbatim.
// Anything outside it is replaced with a generic message and logged.
var quotable = map[string]struct{}{
	"title must be 1-200 characters":                 {},
	"description must be 1-5000 characters":          {},
	"bounty must be between 0.000001 and 1000 USDC":  {},
	"invalid requester wallet address":               {},
	"invalid worker wallet address":                  {},
	"requester cannot claim own job":                 {},
	"result must be 1-100000 characters":             {},
	"unknown status filter":                          {},
	"job not found":                                  {},
	"no escrow for job":                              {},
	"transition not permitted from current state":    {},
	"job can no longer be cancelled":                 {},
	"only open jobs expire":                          {},
	"job deadline not reached":                       {},
	"only the assigned worker can complete this job": {},
	"only the requester can cancel this job":         {},
	"deposit transaction signature required":         {},
	"payment transaction signature required":         {},
	"worker wallet required for release":             {},
	"deposit transaction already used":               {},
	"deposit does not cover the bounty":              {},
	"deposit transaction failed on-chain":            {},
	"deposit transaction not confirmed":              {},
	"job already has an escrow deposit":              {},
	"escrow is not held":                             {},
	"escrow release failed":                          {},
	"escrow refund failed":                           {},
	"rate limit exceeded":                            {},
	"invalid request body":                           {},
	"expected hash required":                         {},
	"activation is only available in demo mode":      {},
}

const genericMessage = "internal error"

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps a service error onto its HTTP shape, sanitizing the message
// against the allow-list.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := fault.KindOf(err)
	message := fault.MessageOf(err)
	if _, ok := quotable[message]; !ok {
		if logger != nil {
			logger.Error("unquotable error suppressed", "kind", string(kind), "error", err)
		}
		message = genericMessage
	}
	writeJSON(w, statusFor(kind), errorBody{Error: message, Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
