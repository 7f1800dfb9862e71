package solana

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	Pubkey   Pubkey
	Signer   bool
	Writable bool
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	Program  Pubkey
	Accounts []AccountMeta
	Data     []byte
}

// TokenTransferInstruction builds an SPL token Transfer moving amount atomic
// units between token accounts, authorized by owner.
func TokenTransferInstruction(source, dest, owner Pubkey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3 // Transfer
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		Program: MustPubkey(TokenProgram),
		Accounts: []AccountMeta{
			{Pubkey: source, Writable: true},
			{Pubkey: dest, Writable: true},
			{Pubkey: owner, Signer: true},
		},
		Data: data,
	}
}

// CreateAssociatedTokenAccountInstruction builds the idempotent ATA create,
// a no-op on-chain when the account already exists.
func CreateAssociatedTokenAccountInstruction(payer, owner, mint Pubkey) (Instruction, error) {
	ata, err := DeriveAssociatedTokenAccount(owner, mint)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Program: MustPubkey(AssociatedTokenProgram),
		Accounts: []AccountMeta{
			{Pubkey: payer, Signer: true, Writable: true},
			{Pubkey: ata, Writable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: MustPubkey(SystemProgram)},
			{Pubkey: MustPubkey(TokenProgram)},
		},
		Data: []byte{1}, // CreateIdempotent
	}, nil
}

// compiledKey tracks the role an account plays across all instructions.
type compiledKey struct {
	pubkey   Pubkey
	signer   bool
	writable bool
}

// Message is a legacy-format transaction message.
type Message struct {
	accountKeys     []compiledKey
	recentBlockhash Pubkey
	instructions    []Instruction
	numSigners      int
}

// NewMessage compiles instructions into a message. The fee payer is forced to
// the first writable-signer slot. Account ordering follows the wire format:
// writable signers, readonly signers, writable non-signers, readonly
// non-signers.
func NewMessage(feePayer Pubkey, recentBlockhash string, instructions []Instruction) (*Message, error) {
	blockhashRaw, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhashRaw) != 32 {
		return nil, fmt.Errorf("solana: invalid recent blockhash %q", recentBlockhash)
	}
	var blockhash Pubkey
	copy(blockhash[:], blockhashRaw)

	merged := map[Pubkey]*compiledKey{}
	order := []Pubkey{}
	add := func(pk Pubkey, signer, writable bool) {
		entry, ok := merged[pk]
		if !ok {
			entry = &compiledKey{pubkey: pk}
			merged[pk] = entry
			order = append(order, pk)
		}
		entry.signer = entry.signer || signer
		entry.writable = entry.writable || writable
	}
	add(feePayer, true, true)
	for _, ins := range instructions {
		for _, meta := range ins.Accounts {
			add(meta.Pubkey, meta.Signer, meta.Writable)
		}
		add(ins.Program, false, false)
	}

	var keys []compiledKey
	for _, class := range []struct{ signer, writable bool }{
		{true, true}, {true, false}, {false, true}, {false, false},
	} {
		for _, pk := range order {
			entry := merged[pk]
			if entry.signer == class.signer && entry.writable == class.writable {
				keys = append(keys, *entry)
			}
		}
	}
	signers := 0
	for _, k := range keys {
		if k.signer {
			signers++
		}
	}
	return &Message{
		accountKeys:     keys,
		recentBlockhash: blockhash,
		instructions:    instructions,
		numSigners:      signers,
	}, nil
}

func (m *Message) keyIndex(pk Pubkey) (uint8, error) {
	for i, k := range m.accountKeys {
		if k.pubkey == pk {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("solana: account %s missing from message", pk)
}

// Serialize encodes the message in the legacy wire format.
func (m *Message) Serialize() ([]byte, error) {
	var readonlySigned, readonlyUnsigned int
	for _, k := range m.accountKeys {
		if k.signer && !k.writable {
			readonlySigned++
		}
		if !k.signer && !k.writable {
			readonlyUnsigned++
		}
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(uint8(m.numSigners))
	buf.WriteByte(uint8(readonlySigned))
	buf.WriteByte(uint8(readonlyUnsigned))
	writeCompactU16(buf, len(m.accountKeys))
	for _, k := range m.accountKeys {
		buf.Write(k.pubkey[:])
	}
	buf.Write(m.recentBlockhash[:])
	writeCompactU16(buf, len(m.instructions))
	for _, ins := range m.instructions {
		programIdx, err := m.keyIndex(ins.Program)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(programIdx)
		writeCompactU16(buf, len(ins.Accounts))
		for _, meta := range ins.Accounts {
			idx, err := m.keyIndex(meta.Pubkey)
			if err != nil {
				return nil, err
			}
			buf.WriteByte(idx)
		}
		writeCompactU16(buf, len(ins.Data))
		buf.Write(ins.Data)
	}
	return buf.Bytes(), nil
}

// SignedTransaction serializes the message and prepends signatures from the
// provided keypairs, which must cover every signer slot in order.
func (m *Message) SignedTransaction(signers ...*Keypair) ([]byte, error) {
	msg, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	if len(signers) != m.numSigners {
		return nil, fmt.Errorf("solana: message needs %d signatures, got %d keypairs", m.numSigners, len(signers))
	}
	byKey := map[Pubkey]*Keypair{}
	for _, kp := range signers {
		byKey[kp.Pubkey()] = kp
	}
	buf := new(bytes.Buffer)
	writeCompactU16(buf, m.numSigners)
	for i := 0; i < m.numSigners; i++ {
		kp, ok := byKey[m.accountKeys[i].pubkey]
		if !ok {
			return nil, fmt.Errorf("solana: no keypair for required signer %s", m.accountKeys[i].pubkey)
		}
		buf.Write(kp.Sign(msg))
	}
	buf.Write(msg)
	return buf.Bytes(), nil
}

// writeCompactU16 appends a shortvec-encoded length.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := uint8(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// readCompactU16 decodes a shortvec length, returning the value and the
// number of bytes consumed.
func readCompactU16(data []byte) (int, int, error) {
	var value, shift uint
	for i := 0; i < len(data) && i < 3; i++ {
		b := data[i]
		value |= uint(b&0x7f) << shift
		if b&0x80 == 0 {
			return int(value), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("solana: truncated compact-u16")
}
