// Package x402 implements the HTTP 402 payment pattern for paywalled job
// results: the server answers with a machine-readable challenge header and
// the client retries carrying a signed token transfer in a request header.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Header names exchanged by the protocol. Values are base64-encoded JSON.
const (
	HeaderPaymentRequired = "X-Payment-Required"
	HeaderPayment         = "X-Payment"
	HeaderPaymentResponse = "X-Payment-Response"
)

// SchemeExact asks for an exact-amount token transfer.
const SchemeExact = "exact"

// Requirement is one accepted way to settle the challenge.
type Requirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource,omitempty"`
	Description       string `json:"description,omitempty"`
}

// Party is one leg of the settlement breakdown.
type Party struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Percent string `json:"percent,omitempty"`
}

// Breakdown describes how the total splits between worker and platform.
type Breakdown struct {
	Total    string `json:"total"`
	Worker   Party  `json:"worker"`
	Platform *Party `json:"platform,omitempty"`
}

// PaymentRequired is the challenge payload carried in X-Payment-Required.
type PaymentRequired struct {
	Accepts   []Requirement `json:"accepts"`
	Breakdown *Breakdown    `json:"breakdown,omitempty"`
}

// PaymentPayload is the client's answer carried in X-Payment.
type PaymentPayload struct {
	// SerializedTransaction is the base64 encoding of a fully signed
	// chain transaction.
	SerializedTransaction string `json:"serializedTransaction"`
}

// SettlementResponse is the receipt carried in X-Payment-Response.
type SettlementResponse struct {
	TxSig     string     `json:"txSig"`
	Success   bool       `json:"success"`
	Breakdown *Breakdown `json:"breakdown,omitempty"`
}

// EncodeHeader marshals v to base64(JSON) for header transport.
func EncodeHeader(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402: encode header payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader unmarshals a base64(JSON) header value into out.
func DecodeHeader(value string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("x402: decode header base64: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("x402: decode header json: %w", err)
	}
	return nil
}
