package solana

import (
	"context"
	"fmt"
	"strconv"

	"botmarket/chain"
)

// Adapter implements chain.Adapter over the JSON-RPC client.
type Adapter struct {
	client *Client
}

// NewAdapter wraps a client in the chain.Adapter interface.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

var _ chain.Adapter = (*Adapter)(nil)

func (a *Adapter) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	return a.client.SendTransaction(ctx, raw)
}

func (a *Adapter) ConfirmTransaction(ctx context.Context, signature string) error {
	return a.client.WaitForConfirmation(ctx, signature)
}

func (a *Adapter) GetConfirmedTransaction(ctx context.Context, signature string) (*chain.ConfirmedTransaction, error) {
	result, err := a.client.GetTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}
	tx := &chain.ConfirmedTransaction{Signature: signature, Slot: result.Slot}
	if result.Meta == nil {
		return tx, nil
	}
	if len(result.Meta.Err) > 0 && string(result.Meta.Err) != "null" {
		tx.Err = true
	}
	tx.PreTokenBalances = convertBalances(result.Meta.PreTokenBalances)
	tx.PostTokenBalances = convertBalances(result.Meta.PostTokenBalances)
	return tx, nil
}

func (a *Adapter) AssociatedTokenAccount(owner, mint string) (string, error) {
	ownerPk, err := ParsePubkey(owner)
	if err != nil {
		return "", err
	}
	mintPk, err := ParsePubkey(mint)
	if err != nil {
		return "", err
	}
	ata, err := DeriveAssociatedTokenAccount(ownerPk, mintPk)
	if err != nil {
		return "", err
	}
	return ata.String(), nil
}

func (a *Adapter) LatestBlockhash(ctx context.Context) (string, error) {
	return a.client.LatestBlockhash(ctx)
}

func convertBalances(entries []tokenBalanceEntry) []chain.TokenBalance {
	out := make([]chain.TokenBalance, 0, len(entries))
	for _, e := range entries {
		amount, err := strconv.ParseUint(e.UITokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, chain.TokenBalance{
			AccountIndex: e.AccountIndex,
			Mint:         e.Mint,
			Owner:        e.Owner,
			Amount:       amount,
		})
	}
	return out
}

// EscrowTransferBuilder builds signed multi-recipient token transfers out of
// the escrow wallet. It holds the only copy of the escrow signing key.
type EscrowTransferBuilder struct {
	adapter *Adapter
	signer  *Keypair
	mint    Pubkey
}

// NewEscrowTransferBuilder constructs a builder for the given mint signed by
// the escrow keypair.
func NewEscrowTransferBuilder(adapter *Adapter, signer *Keypair, mint string) (*EscrowTransferBuilder, error) {
	mintPk, err := ParsePubkey(mint)
	if err != nil {
		return nil, fmt.Errorf("solana: escrow builder mint: %w", err)
	}
	return &EscrowTransferBuilder{adapter: adapter, signer: signer, mint: mintPk}, nil
}

var _ chain.TransferBuilder = (*EscrowTransferBuilder)(nil)

// BuildTransfer assembles one signed transaction containing, per recipient,
// an idempotent ATA create followed by a token transfer from the escrow
// token account.
func (b *EscrowTransferBuilder) BuildTransfer(ctx context.Context, transfers []chain.Transfer) ([]byte, error) {
	if len(transfers) == 0 {
		return nil, fmt.Errorf("solana: no transfer legs")
	}
	escrowOwner := b.signer.Pubkey()
	source, err := DeriveAssociatedTokenAccount(escrowOwner, b.mint)
	if err != nil {
		return nil, err
	}
	var instructions []Instruction
	for _, leg := range transfers {
		if leg.AmountAtomic == 0 {
			continue
		}
		recipient, err := ParsePubkey(leg.Recipient)
		if err != nil {
			return nil, fmt.Errorf("solana: transfer recipient: %w", err)
		}
		createIns, err := CreateAssociatedTokenAccountInstruction(escrowOwner, recipient, b.mint)
		if err != nil {
			return nil, err
		}
		dest, err := DeriveAssociatedTokenAccount(recipient, b.mint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions,
			createIns,
			TokenTransferInstruction(source, dest, escrowOwner, leg.AmountAtomic),
		)
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("solana: all transfer legs were zero")
	}
	blockhash, err := b.adapter.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := NewMessage(escrowOwner, blockhash, instructions)
	if err != nil {
		return nil, err
	}
	return msg.SignedTransaction(b.signer)
}
