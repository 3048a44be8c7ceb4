package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// WalletMessage is the text a caller personal_signs to authenticate one
// API request:
//
//	METHOD\nPATH\nUNIX_TIMESTAMP\nhex(sha256(body))
func WalletMessage(method, path string, unixTS int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(method + "\n" + path + "\n" + strconv.FormatInt(unixTS, 10) + "\n" + hex.EncodeToString(sum[:]))
}

// VerifyWalletSignature checks that sigHex is claimed's personal_sign of
// msg.
func VerifyWalletSignature(claimed common.Address, msg []byte, sigHex string) error {
	got, err := recoverDigest(accounts.TextHash(msg), sigHex)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if got != claimed {
		return fmt.Errorf("%w: signature recovers to %s", domain.ErrUnauthorized, got.Hex())
	}
	return nil
}

// SignPersonal produces a personal_sign signature with the signer's key,
// as a wallet would.
func (s *Signer) SignPersonal(msg []byte) (string, error) {
	return s.signDigest(accounts.TextHash(msg))
}
