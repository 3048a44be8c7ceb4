package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Account names a balance in the value ledger: either a wallet address or
// a market pool.
type Account string

const poolPrefix = "market:"

// WalletAccount is the ledger account of an external wallet.
func WalletAccount(addr common.Address) Account {
	return Account(strings.ToLower(addr.Hex()))
}

// PoolAccount is the ledger account holding a market's funds.
func PoolAccount(id MarketID) Account {
	return Account(poolPrefix + id.Hex())
}

// IsPool reports whether a names a market pool.
func (a Account) IsPool() bool {
	return strings.HasPrefix(string(a), poolPrefix)
}

func (a Account) String() string { return string(a) }
