package types

import (
	"encoding/hex"
	"encoding/json"
)

// ScriptType identifies the type of locking/unlocking script.
type ScriptType uint8

const (
	ScriptTypeP2PKH    ScriptType = 0x01 // Pay to public key hash
	ScriptTypeP2SH     ScriptType = 0x02 // Pay to script hash
	ScriptTypeMint     ScriptType = 0x10 // Token mint operation
	ScriptTypeBurn     ScriptType = 0x11 // Token burn (unspendable)
	ScriptTypeAnchor   ScriptType = 0x20 // Sub-chain anchor commitment
	ScriptTypeRegister ScriptType = 0x21 // Sub-chain registration
	ScriptTypeBridge   ScriptType = 0x30 // Cross-chain bridge lock/unlock
	ScriptTypeStake    ScriptType = 0x40 // Validator stake lock (data = 33-byte compressed pubkey)

	// Special-transaction script types. Each marks a payload output
	// carrying a JSON-encoded struct in Data; the transaction kind is
	// read off output[0]'s type the way ScriptTypeRegister marks a
	// sub-chain registration tx.
	ScriptTypeVault      ScriptType = 0x50 // vaulted M0 (anyone-can-spend, tagged IsVault by settlement)
	ScriptTypeM1         ScriptType = 0x51 // M1 receipt (data = 20-byte owner address)
	ScriptTypeBurnClaim  ScriptType = 0x52 // TX_BURN_CLAIM marker (data = BurnClaimData JSON)
	ScriptTypeMintM0BTC  ScriptType = 0x53 // TX_MINT_M0BTC marker (data = MintClaimsData JSON)
	ScriptTypeBTCHeaders ScriptType = 0x54 // TX_BTC_HEADERS marker (data = BTCHeadersData JSON)
	ScriptTypeHTLC       ScriptType = 0x55 // HTLC-locked M1 (data = HTLCData JSON)
	ScriptTypeProReg     ScriptType = 0x56 // masternode registration (data = ProRegData JSON)
	ScriptTypeProUpServ  ScriptType = 0x57 // masternode service-endpoint update
	ScriptTypeProUpReg   ScriptType = 0x58 // masternode operator-key update
	ScriptTypeProUpRev   ScriptType = 0x59 // masternode revocation
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeP2SH:
		return "P2SH"
	case ScriptTypeMint:
		return "Mint"
	case ScriptTypeBurn:
		return "Burn"
	case ScriptTypeAnchor:
		return "Anchor"
	case ScriptTypeRegister:
		return "Register"
	case ScriptTypeBridge:
		return "Bridge"
	case ScriptTypeStake:
		return "Stake"
	case ScriptTypeVault:
		return "Vault"
	case ScriptTypeM1:
		return "M1"
	case ScriptTypeBurnClaim:
		return "BurnClaim"
	case ScriptTypeMintM0BTC:
		return "MintM0BTC"
	case ScriptTypeBTCHeaders:
		return "BTCHeaders"
	case ScriptTypeHTLC:
		return "HTLC"
	case ScriptTypeProReg:
		return "ProReg"
	case ScriptTypeProUpServ:
		return "ProUpServ"
	case ScriptTypeProUpReg:
		return "ProUpReg"
	case ScriptTypeProUpRev:
		return "ProUpRev"
	default:
		return "Unknown"
	}
}

// Script defines the locking condition for a UTXO.
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}
