package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Receipt domain. Off-chain mirrors verify receipts against these.
const (
	ReceiptDomainName    = "MarketSettle"
	ReceiptDomainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	decisionTypeHash = ethcrypto.Keccak256(
		[]byte("DecisionReceipt(bytes32 marketId,string kind,uint256 agree,uint256 disagree,uint256 rateBps,bool passed,string state,uint256 eventSeq)"),
	)
)

// DecisionReceipt is the signed summary of a vote-driven decision.
type DecisionReceipt struct {
	MarketID domain.MarketID `json:"market_id"`
	Kind     string          `json:"kind"`
	Agree    uint64          `json:"agree"`
	Disagree uint64          `json:"disagree"`
	RateBps  uint64          `json:"rate_bps"`
	Passed   bool            `json:"passed"`
	State    string          `json:"state"`
	EventSeq uint64          `json:"event_seq"`
}

// ReceiptFromEvent extracts a receipt from a committed decision event. It
// returns false for events that are not decisions.
func ReceiptFromEvent(e domain.Event) (DecisionReceipt, bool) {
	if !e.Kind.IsDecision() {
		return DecisionReceipt{}, false
	}
	r := DecisionReceipt{
		MarketID: e.MarketID,
		Kind:     string(e.Kind),
		EventSeq: uint64(max(e.Seq, 0)),
	}
	r.Agree = dataUint(e.Data["agree"])
	r.Disagree = dataUint(e.Data["disagree"])
	r.RateBps = dataUint(e.Data["rate_bps"])
	r.Passed, _ = e.Data["passed"].(bool)
	r.State, _ = e.Data["state"].(string)
	return r, true
}

// dataUint reads a count from event data. Events read back from a store
// carry json.Number instead of uint64.
func dataUint(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case json.Number:
		u, _ := strconv.ParseUint(n.String(), 10, 64)
		return u
	case float64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	default:
		return 0
	}
}

// Signer signs decision receipts with the operator key.
type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	domainSep []byte
}

// NewSigner binds key to the receipt domain on chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		key:       key,
		address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		domainSep: DomainSeparator(chainID),
	}
}

// Address is the operator address receipts recover to.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDecision returns the 65-byte hex signature over r's EIP-712 digest.
func (s *Signer) SignDecision(r DecisionReceipt) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, decisionStructHash(r)))
}

// RecoverDecision returns the address that signed r on chainID.
func RecoverDecision(chainID int64, r DecisionReceipt, sigHex string) (common.Address, error) {
	return recoverDigest(eip712Hash(DomainSeparator(chainID), decisionStructHash(r)), sigHex)
}

// DomainSeparator is keccak256(abi.encode(typeHash, name, version, chainId)).
func DomainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(ReceiptDomainName)),
		ethcrypto.Keccak256([]byte(ReceiptDomainVersion)),
		word(new(big.Int).SetInt64(chainID)),
	)
}

func decisionStructHash(r DecisionReceipt) []byte {
	passed := big.NewInt(0)
	if r.Passed {
		passed = big.NewInt(1)
	}
	return ethcrypto.Keccak256(
		decisionTypeHash,
		r.MarketID.Bytes(),
		ethcrypto.Keccak256([]byte(r.Kind)),
		word(new(big.Int).SetUint64(r.Agree)),
		word(new(big.Int).SetUint64(r.Disagree)),
		word(new(big.Int).SetUint64(r.RateBps)),
		word(passed),
		ethcrypto.Keccak256([]byte(r.State)),
		word(new(big.Int).SetUint64(r.EventSeq)),
	)
}

// eip712Hash is keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest returns r || s || v with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w: %w", domain.ErrSigningFailed, err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverDigest(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: signature hex: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// word left-pads n to a 32-byte ABI word.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
