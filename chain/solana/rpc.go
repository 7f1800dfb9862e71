package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrTransactionNotFound is returned when the node has no record of the
// signature at confirmed commitment.
var ErrTransactionNotFound = errors.New("solana: transaction not found")

// ErrTransactionFailed is returned when a confirmed transaction carries an
// on-chain error.
var ErrTransactionFailed = errors.New("solana: transaction failed on-chain")

// Client is a thin JSON-RPC client against a Solana node.
type Client struct {
	endpoint     string
	http         *http.Client
	nextID       atomic.Int64
	pollInterval time.Duration
}

// ClientOption customises the client instance.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithPollInterval configures the confirmation polling cadence.
func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient constructs a client for the given RPC endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     endpoint,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorObj    `json:"error"`
}

type rpcErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("solana: marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("solana: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("solana: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s returned HTTP %d", method, resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("solana: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("solana: %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("solana: %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// SendTransaction broadcasts a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(raw)
	var signature string
	err := c.call(ctx, "sendTransaction", []interface{}{
		encoded,
		map[string]interface{}{"encoding": "base64", "preflightCommitment": "confirmed"},
	}, &signature)
	if err != nil {
		return "", err
	}
	return signature, nil
}

// LatestBlockhash fetches a recent blockhash at confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": "confirmed"},
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Value.Blockhash == "" {
		return "", errors.New("solana: node returned empty blockhash")
	}
	return result.Value.Blockhash, nil
}

type signatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// SignatureStatus queries the status of a single signature. A nil result
// means the node does not know the signature yet.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (*signatureStatus, error) {
	var result struct {
		Value []*signatureStatus `json:"value"`
	}
	err := c.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// WaitForConfirmation polls until the signature reaches confirmed or
// finalized commitment. The caller bounds the wait via ctx.
func (c *Client) WaitForConfirmation(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.SignatureStatus(ctx, signature)
		if err == nil && status != nil {
			if len(status.Err) > 0 && string(status.Err) != "null" {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, status.Err)
			}
			switch status.ConfirmationStatus {
			case "confirmed", "finalized":
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("solana: confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

type tokenBalanceEntry struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

type transactionMeta struct {
	Err               json.RawMessage     `json:"err"`
	PreTokenBalances  []tokenBalanceEntry `json:"preTokenBalances"`
	PostTokenBalances []tokenBalanceEntry `json:"postTokenBalances"`
}

type transactionResult struct {
	Slot uint64           `json:"slot"`
	Meta *transactionMeta `json:"meta"`
}

// GetTransaction fetches a confirmed transaction with balance metadata.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*transactionResult, error) {
	var result *transactionResult
	err := c.call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"commitment":                     "confirmed",
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrTransactionNotFound
	}
	return result, nil
}
