// Package chain abstracts the on-chain operations the marketplace needs:
// submitting signed transactions, awaiting confirmation, and inspecting the
// token balance movements of a confirmed transaction. Swapping networks
// should touch only implementations of these interfaces.
package chain

import "context"

// TokenBalance is one entry of a transaction's pre or post token balance
// metadata for a specific token account.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       uint64
}

// ConfirmedTransaction carries the settlement-relevant metadata of a
// confirmed transaction.
type ConfirmedTransaction struct {
	Signature         string
	Slot              uint64
	Err               bool
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenDelta computes how many atomic units the given owner gained (or lost,
// negative) for the given mint across the transaction.
func (tx *ConfirmedTransaction) TokenDelta(owner, mint string) int64 {
	if tx == nil {
		return 0
	}
	var pre, post int64
	for _, b := range tx.PreTokenBalances {
		if b.Owner == owner && b.Mint == mint {
			pre += int64(b.Amount)
		}
	}
	for _, b := range tx.PostTokenBalances {
		if b.Owner == owner && b.Mint == mint {
			post += int64(b.Amount)
		}
	}
	return post - pre
}

// Adapter is the thin abstraction over the blockchain node.
type Adapter interface {
	// SubmitTransaction broadcasts a fully signed transaction and returns
	// its signature.
	SubmitTransaction(ctx context.Context, raw []byte) (string, error)

	// ConfirmTransaction blocks until the signature reaches confirmed
	// commitment or the context expires.
	ConfirmTransaction(ctx context.Context, signature string) error

	// GetConfirmedTransaction fetches a confirmed transaction with its
	// token balance metadata.
	GetConfirmedTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error)

	// AssociatedTokenAccount derives the token account address holding the
	// given mint for the given owner.
	AssociatedTokenAccount(owner, mint string) (string, error)

	// LatestBlockhash returns a recent blockhash for transaction building.
	LatestBlockhash(ctx context.Context) (string, error)
}

// Transfer describes one leg of a token payout.
type Transfer struct {
	Recipient    string
	AmountAtomic uint64
}

// TransferBuilder turns payout legs into a single signed transaction moving
// tokens out of the escrow account. Implementations own the signing key.
type TransferBuilder interface {
	BuildTransfer(ctx context.Context, transfers []Transfer) ([]byte, error)
}
