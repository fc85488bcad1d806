package btcwire

import (
	"encoding/binary"
	"fmt"
)

// Sanity caps enforced while parsing (§4.C).
const (
	MaxTxOutputs  = 100
	MaxScriptSize = 10_000
	MaxTxSize     = 200_000
)

// segwit marker/flag bytes, inserted after the version field when a
// transaction carries witness data.
const (
	segwitMarker = 0x00
	segwitFlag   = 0x01
)

// OutPoint references a specific output of a previous transaction.
type OutPoint struct {
	Hash  Hash256
	Index uint32
}

// TxIn is a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

// TxOut is a transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Witness is the witness stack attached to one input.
type Witness [][]byte

// Tx is a fully decoded Bitcoin transaction.
type Tx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	Witness  []Witness // len == len(TxIn) when the tx has witness data, else nil
	LockTime uint32
}

// ParsedTx bundles a decoded transaction with both of its hash
// identities, matching §4.C: "compute the legacy txid as SHA256d of the
// non-witness serialization; compute wtxid separately".
type ParsedTx struct {
	Tx    *Tx
	TxID  Hash256 // non-witness serialization hash
	WTxID Hash256 // full (witness-inclusive) serialization hash
}

// ParseTx decodes a raw Bitcoin transaction, including the SegWit
// marker/flag and per-input witness stacks, enforcing the sanity caps
// from §4.C. Returns the legacy txid and wtxid alongside the decoded
// structure.
func ParseTx(raw []byte) (*ParsedTx, error) {
	if len(raw) > MaxTxSize {
		return nil, fmt.Errorf("btc tx: %d bytes exceeds max %d", len(raw), MaxTxSize)
	}
	if len(raw) < 10 {
		return nil, fmt.Errorf("btc tx: too short (%d bytes)", len(raw))
	}

	off := 0
	version := int32(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4

	segwit := false
	if off+2 <= len(raw) && raw[off] == segwitMarker && raw[off+1] == segwitFlag {
		segwit = true
		off += 2
	}

	numIn, n, err := ReadCompactSize(raw, off)
	if err != nil {
		return nil, fmt.Errorf("btc tx: input count: %w", err)
	}
	off += n
	if numIn == 0 {
		return nil, fmt.Errorf("btc tx: zero inputs")
	}

	inputs := make([]*TxIn, 0, numIn)
	for i := uint64(0); i < numIn; i++ {
		in, consumed, err := parseTxIn(raw, off)
		if err != nil {
			return nil, fmt.Errorf("btc tx: input %d: %w", i, err)
		}
		off += consumed
		inputs = append(inputs, in)
	}

	numOut, n, err := ReadCompactSize(raw, off)
	if err != nil {
		return nil, fmt.Errorf("btc tx: output count: %w", err)
	}
	off += n
	if numOut > MaxTxOutputs {
		return nil, fmt.Errorf("btc tx: %d outputs exceeds max %d", numOut, MaxTxOutputs)
	}

	outputs := make([]*TxOut, 0, numOut)
	for i := uint64(0); i < numOut; i++ {
		out, consumed, err := parseTxOut(raw, off)
		if err != nil {
			return nil, fmt.Errorf("btc tx: output %d: %w", i, err)
		}
		off += consumed
		outputs = append(outputs, out)
	}

	var witnesses []Witness
	if segwit {
		witnesses = make([]Witness, numIn)
		for i := uint64(0); i < numIn; i++ {
			w, consumed, err := parseWitness(raw, off)
			if err != nil {
				return nil, fmt.Errorf("btc tx: witness %d: %w", i, err)
			}
			off += consumed
			witnesses[i] = w
		}
	}

	if off+4 > len(raw) {
		return nil, fmt.Errorf("btc tx: truncated locktime")
	}
	lockTime := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4

	if off != len(raw) {
		return nil, fmt.Errorf("btc tx: %d trailing bytes after locktime", len(raw)-off)
	}

	tx := &Tx{
		Version:  version,
		TxIn:     inputs,
		TxOut:    outputs,
		Witness:  witnesses,
		LockTime: lockTime,
	}

	nonWitness := tx.serializeNonWitness()
	wtxidBytes := raw
	if !segwit {
		wtxidBytes = nonWitness
	}

	return &ParsedTx{
		Tx:    tx,
		TxID:  DoubleSHA256(nonWitness),
		WTxID: DoubleSHA256(wtxidBytes),
	}, nil
}

func parseTxIn(buf []byte, off int) (*TxIn, int, error) {
	start := off
	if off+36 > len(buf) {
		return nil, 0, fmt.Errorf("truncated outpoint")
	}
	var op OutPoint
	copy(op.Hash[:], buf[off:off+32])
	op.Index = binary.LittleEndian.Uint32(buf[off+32 : off+36])
	off += 36

	scriptLen, n, err := ReadCompactSize(buf, off)
	if err != nil {
		return nil, 0, fmt.Errorf("script length: %w", err)
	}
	off += n
	if scriptLen > MaxScriptSize {
		return nil, 0, fmt.Errorf("signature script %d bytes exceeds max %d", scriptLen, MaxScriptSize)
	}
	if off+int(scriptLen) > len(buf) {
		return nil, 0, fmt.Errorf("truncated signature script")
	}
	script := append([]byte(nil), buf[off:off+int(scriptLen)]...)
	off += int(scriptLen)

	if off+4 > len(buf) {
		return nil, 0, fmt.Errorf("truncated sequence")
	}
	seq := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4

	return &TxIn{PreviousOutPoint: op, SignatureScript: script, Sequence: seq}, off - start, nil
}

func parseTxOut(buf []byte, off int) (*TxOut, int, error) {
	start := off
	if off+8 > len(buf) {
		return nil, 0, fmt.Errorf("truncated value")
	}
	value := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8

	scriptLen, n, err := ReadCompactSize(buf, off)
	if err != nil {
		return nil, 0, fmt.Errorf("script length: %w", err)
	}
	off += n
	if scriptLen > MaxScriptSize {
		return nil, 0, fmt.Errorf("pk script %d bytes exceeds max %d", scriptLen, MaxScriptSize)
	}
	if off+int(scriptLen) > len(buf) {
		return nil, 0, fmt.Errorf("truncated pk script")
	}
	script := append([]byte(nil), buf[off:off+int(scriptLen)]...)
	off += int(scriptLen)

	return &TxOut{Value: value, PkScript: script}, off - start, nil
}

func parseWitness(buf []byte, off int) (Witness, int, error) {
	start := off
	count, n, err := ReadCompactSize(buf, off)
	if err != nil {
		return nil, 0, fmt.Errorf("item count: %w", err)
	}
	off += n

	items := make(Witness, 0, count)
	for i := uint64(0); i < count; i++ {
		itemLen, n, err := ReadCompactSize(buf, off)
		if err != nil {
			return nil, 0, fmt.Errorf("item %d length: %w", i, err)
		}
		off += n
		if itemLen > MaxScriptSize {
			return nil, 0, fmt.Errorf("witness item %d: %d bytes exceeds max %d", i, itemLen, MaxScriptSize)
		}
		if off+int(itemLen) > len(buf) {
			return nil, 0, fmt.Errorf("truncated witness item %d", i)
		}
		items = append(items, append([]byte(nil), buf[off:off+int(itemLen)]...))
		off += int(itemLen)
	}
	return items, off - start, nil
}

// serializeNonWitness re-encodes the transaction without the SegWit
// marker/flag/witness fields — the bytes whose double-SHA256 is the
// legacy txid.
func (tx *Tx) serializeNonWitness() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	buf = WriteCompactSize(buf, uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		buf = append(buf, in.PreviousOutPoint.Hash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PreviousOutPoint.Index)
		buf = WriteCompactSize(buf, uint64(len(in.SignatureScript)))
		buf = append(buf, in.SignatureScript...)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}
	buf = WriteCompactSize(buf, uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(out.Value))
		buf = WriteCompactSize(buf, uint64(len(out.PkScript)))
		buf = append(buf, out.PkScript...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	return buf
}

// Serialize re-encodes the transaction in full wire format, including
// the SegWit marker/flag/witness fields when Witness is non-nil.
// Re-serializing a parsed transaction must reproduce its original
// bytes (§8 round-trip property).
func (tx *Tx) Serialize() []byte {
	if tx.Witness == nil {
		return tx.serializeNonWitness()
	}

	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	buf = append(buf, segwitMarker, segwitFlag)
	buf = WriteCompactSize(buf, uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		buf = append(buf, in.PreviousOutPoint.Hash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PreviousOutPoint.Index)
		buf = WriteCompactSize(buf, uint64(len(in.SignatureScript)))
		buf = append(buf, in.SignatureScript...)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}
	buf = WriteCompactSize(buf, uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(out.Value))
		buf = WriteCompactSize(buf, uint64(len(out.PkScript)))
		buf = append(buf, out.PkScript...)
	}
	for _, w := range tx.Witness {
		buf = WriteCompactSize(buf, uint64(len(w)))
		for _, item := range w {
			buf = WriteCompactSize(buf, uint64(len(item)))
			buf = append(buf, item...)
		}
	}
	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	return buf
}
