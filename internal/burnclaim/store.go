package burnclaim

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

// Key prefixes for the burn-claim database.
var (
	prefixMain   = []byte("b/") // b/<burntxid(32)><vout(4)> -> Record JSON
	prefixStatus = []byte("s/") // s/<status(1)><claimheight(8 BE)><burntxid(32)><vout(4)> -> empty
	prefixDest   = []byte("d/") // d/<dest(20)><burntxid(32)><vout(4)> -> empty
	keySupply    = []byte("c/supply")
)

// Errors returned by the burn claim store.
var (
	ErrAlreadyClaimed = errors.New("burnclaim: this BTC burn output already has a claim")
	ErrNotFound       = errors.New("burnclaim: no claim for this burn output")
	ErrWrongStatus    = errors.New("burnclaim: claim is not in the expected lifecycle state")
)

// Store persists burn claims keyed by the BTC burn transaction's
// (txid, vout) and maintains status/height and destination secondary
// indexes for the DMN/assembler/RPC layers to scan.
type Store struct {
	db storage.DB
}

// New creates a burn-claim store backed by db.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// Create registers a new PENDING claim. Fails with ErrAlreadyClaimed
// if this (burnTxID, vout) already has a record — §4.D's "first claim
// wins" rule.
func (s *Store) Create(rec *Record) error {
	rec.Status = StatusPending
	key := mainKey(rec.BurnTxID, rec.BurnVout)
	if has, err := s.db.Has(key); err != nil {
		return fmt.Errorf("burnclaim: check existing: %w", err)
	} else if has {
		return ErrAlreadyClaimed
	}

	if err := s.putRecord(rec); err != nil {
		return err
	}
	if err := s.db.Put(statusKey(StatusPending, rec.ClaimHeight, rec.BurnTxID, rec.BurnVout), []byte{}); err != nil {
		return fmt.Errorf("burnclaim: put status index: %w", err)
	}
	if err := s.db.Put(destKey(rec.Destination, rec.BurnTxID, rec.BurnVout), []byte{}); err != nil {
		return fmt.Errorf("burnclaim: put destination index: %w", err)
	}
	return nil
}

// Get retrieves a claim record by its BTC burn output.
func (s *Store) Get(burnTxID btcwire.Hash256, vout uint32) (*Record, error) {
	data, err := s.db.Get(mainKey(burnTxID, vout))
	if err != nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("burnclaim: unmarshal: %w", err)
	}
	return &rec, nil
}

// Has reports whether a claim exists for this burn output.
func (s *Store) Has(burnTxID btcwire.Hash256, vout uint32) (bool, error) {
	return s.db.Has(mainKey(burnTxID, vout))
}

// MarkFinal transitions a PENDING claim to FINAL when a connected
// TX_MINT_M0BTC references it. Moves the
// claim's entry in the status-height index and adds its value to the
// running finalized-supply counter.
func (s *Store) MarkFinal(burnTxID btcwire.Hash256, vout uint32, finalizedHeight uint64) error {
	rec, err := s.Get(burnTxID, vout)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: claim is %s, want pending", ErrWrongStatus, rec.Status)
	}

	if err := s.db.Delete(statusKey(StatusPending, rec.ClaimHeight, burnTxID, vout)); err != nil {
		return fmt.Errorf("burnclaim: delete pending index: %w", err)
	}

	rec.Status = StatusFinal
	rec.FinalizedHeight = finalizedHeight
	if err := s.putRecord(rec); err != nil {
		return err
	}
	if err := s.db.Put(statusKey(StatusFinal, rec.ClaimHeight, burnTxID, vout), []byte{}); err != nil {
		return fmt.Errorf("burnclaim: put final index: %w", err)
	}
	return s.addSupply(rec.BurnedSats)
}

// MarkMinted transitions a FINAL claim to MINTED once its
// TX_MINT_M0BTC transaction has been connected. A claim can only ever
// be minted once — a second attempt fails with ErrWrongStatus.
func (s *Store) MarkMinted(burnTxID btcwire.Hash256, vout uint32, mintTxID [32]byte) error {
	rec, err := s.Get(burnTxID, vout)
	if err != nil {
		return err
	}
	if rec.Status != StatusFinal {
		return fmt.Errorf("%w: claim is %s, want final", ErrWrongStatus, rec.Status)
	}

	if err := s.db.Delete(statusKey(StatusFinal, rec.ClaimHeight, burnTxID, vout)); err != nil {
		return fmt.Errorf("burnclaim: delete final index: %w", err)
	}

	rec.Status = StatusMinted
	rec.MintTxID = mintTxID
	if err := s.putRecord(rec); err != nil {
		return err
	}
	return s.db.Put(statusKey(StatusMinted, rec.ClaimHeight, burnTxID, vout), []byte{})
}

// Undo reverts a claim to an earlier lifecycle state during a reorg
// (FINAL→PENDING or MINTED→FINAL), restoring the relevant index
// entries. Undoing a finalized claim back to PENDING subtracts its
// value from the finalized-supply counter that MarkFinal added to.
func (s *Store) Undo(burnTxID btcwire.Hash256, vout uint32, to Status) error {
	rec, err := s.Get(burnTxID, vout)
	if err != nil {
		return err
	}
	if to == StatusPending && rec.Status != StatusPending {
		total, err := s.TotalFinalizedSats()
		if err != nil {
			return err
		}
		if total < rec.BurnedSats {
			return fmt.Errorf("burnclaim: supply counter %d below undone claim %d", total, rec.BurnedSats)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, total-rec.BurnedSats)
		if err := s.db.Put(keySupply, buf); err != nil {
			return err
		}
	}
	if err := s.db.Delete(statusKey(rec.Status, rec.ClaimHeight, burnTxID, vout)); err != nil {
		return fmt.Errorf("burnclaim: delete stale status index: %w", err)
	}
	rec.Status = to
	if to == StatusPending {
		rec.FinalizedHeight = 0
	}
	if to != StatusMinted {
		rec.MintTxID = [32]byte{}
	}
	if err := s.putRecord(rec); err != nil {
		return err
	}
	return s.db.Put(statusKey(to, rec.ClaimHeight, burnTxID, vout), []byte{})
}

// Delete removes a claim entirely, used when the TX_BURN_CLAIM that
// registered it is disconnected during a reorg before ever reaching
// FINAL (a claim that has been finalized or minted must be unwound via
// Undo first — Delete refuses otherwise, since removing it outright
// would let the same BTC burn output be claimed twice).
func (s *Store) Delete(burnTxID btcwire.Hash256, vout uint32) error {
	rec, err := s.Get(burnTxID, vout)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: cannot delete a %s claim, undo it to pending first", ErrWrongStatus, rec.Status)
	}
	if err := s.db.Delete(statusKey(StatusPending, rec.ClaimHeight, burnTxID, vout)); err != nil {
		return fmt.Errorf("burnclaim: delete pending index: %w", err)
	}
	if err := s.db.Delete(destKey(rec.Destination, burnTxID, vout)); err != nil {
		return fmt.Errorf("burnclaim: delete destination index: %w", err)
	}
	return s.db.Delete(mainKey(burnTxID, vout))
}

// ForEachPending iterates PENDING claims in ascending claim-height order.
func (s *Store) ForEachPending(fn func(*Record) error) error {
	return s.forEachStatus(StatusPending, fn)
}

// ForEachFinal iterates FINAL (unminted) claims in ascending
// claim-height order.
func (s *Store) ForEachFinal(fn func(*Record) error) error {
	return s.forEachStatus(StatusFinal, fn)
}

func (s *Store) forEachStatus(status Status, fn func(*Record) error) error {
	prefix := append(append([]byte{}, prefixStatus...), byte(status))
	return s.db.ForEach(prefix, func(key, _ []byte) error {
		burnTxID, vout, ok := parseStatusKey(key)
		if !ok {
			return nil
		}
		rec, err := s.Get(burnTxID, vout)
		if err != nil {
			return nil // index/record drifted; skip rather than fail the scan
		}
		return fn(rec)
	})
}

// ForEachByDestination iterates every claim (any status) whose burn
// targets the given destination hash160.
func (s *Store) ForEachByDestination(dest [20]byte, fn func(*Record) error) error {
	prefix := append(append([]byte{}, prefixDest...), dest[:]...)
	return s.db.ForEach(prefix, func(key, _ []byte) error {
		off := len(prefixDest) + 20
		if len(key) < off+btcwire.HashSize+4 {
			return nil
		}
		var burnTxID btcwire.Hash256
		copy(burnTxID[:], key[off:off+btcwire.HashSize])
		vout := binary.BigEndian.Uint32(key[off+btcwire.HashSize:])
		rec, err := s.Get(burnTxID, vout)
		if err != nil {
			return nil
		}
		return fn(rec)
	})
}

// TotalFinalizedSats returns the running total of burned sats across
// every claim currently FINAL or MINTED; Undo back to PENDING lowers it.
func (s *Store) TotalFinalizedSats() (uint64, error) {
	data, err := s.db.Get(keySupply)
	if err != nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("burnclaim: corrupt supply counter (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *Store) addSupply(sats uint64) error {
	total, err := s.TotalFinalizedSats()
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, total+sats)
	return s.db.Put(keySupply, buf)
}

func (s *Store) putRecord(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("burnclaim: marshal: %w", err)
	}
	return s.db.Put(mainKey(rec.BurnTxID, rec.BurnVout), data)
}

func mainKey(burnTxID btcwire.Hash256, vout uint32) []byte {
	key := make([]byte, len(prefixMain)+btcwire.HashSize+4)
	copy(key, prefixMain)
	copy(key[len(prefixMain):], burnTxID[:])
	binary.BigEndian.PutUint32(key[len(prefixMain)+btcwire.HashSize:], vout)
	return key
}

func statusKey(status Status, claimHeight uint64, burnTxID btcwire.Hash256, vout uint32) []byte {
	key := make([]byte, len(prefixStatus)+1+8+btcwire.HashSize+4)
	off := 0
	copy(key, prefixStatus)
	off += len(prefixStatus)
	key[off] = byte(status)
	off++
	binary.BigEndian.PutUint64(key[off:], claimHeight)
	off += 8
	copy(key[off:], burnTxID[:])
	off += btcwire.HashSize
	binary.BigEndian.PutUint32(key[off:], vout)
	return key
}

func parseStatusKey(key []byte) (btcwire.Hash256, uint32, bool) {
	off := len(prefixStatus) + 1 + 8
	if len(key) < off+btcwire.HashSize+4 {
		return btcwire.Hash256{}, 0, false
	}
	var burnTxID btcwire.Hash256
	copy(burnTxID[:], key[off:off+btcwire.HashSize])
	vout := binary.BigEndian.Uint32(key[off+btcwire.HashSize:])
	return burnTxID, vout, true
}

func destKey(dest [20]byte, burnTxID btcwire.Hash256, vout uint32) []byte {
	key := make([]byte, len(prefixDest)+20+btcwire.HashSize+4)
	off := 0
	copy(key, prefixDest)
	off += len(prefixDest)
	copy(key[off:], dest[:])
	off += 20
	copy(key[off:], burnTxID[:])
	off += btcwire.HashSize
	binary.BigEndian.PutUint32(key[off:], vout)
	return key
}
