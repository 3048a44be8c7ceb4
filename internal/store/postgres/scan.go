package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"
)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// amount encodes a uint64 as NUMERIC. BIGINT cannot hold the upper half of
// the range.
func amount(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// amountCol scans a NUMERIC amount column into a uint64.
type amountCol struct{ dst *uint64 }

func (c amountCol) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		*c.dst = 0
		return nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("postgres: amount is not finite")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		d := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		v.QuoRem(v, d, &rem)
		if rem.Sign() != 0 {
			return fmt.Errorf("postgres: amount %s is fractional", n.Int)
		}
	}
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return fmt.Errorf("postgres: amount %s out of range", v)
	}
	*c.dst = v.Uint64()
	return nil
}

// addrCol scans a hex address column. Empty text is the zero address.
type addrCol struct{ dst *common.Address }

func (c addrCol) ScanText(t pgtype.Text) error {
	if !t.Valid || t.String == "" {
		*c.dst = common.Address{}
		return nil
	}
	if !common.IsHexAddress(t.String) {
		return fmt.Errorf("postgres: bad address %q", t.String)
	}
	*c.dst = common.HexToAddress(t.String)
	return nil
}

// hashCol scans a hex market id column.
type hashCol struct{ dst *common.Hash }

func (c hashCol) ScanText(t pgtype.Text) error {
	if !t.Valid {
		*c.dst = common.Hash{}
		return nil
	}
	*c.dst = common.HexToHash(t.String)
	return nil
}

// timeCol scans a nullable TIMESTAMPTZ; NULL becomes the zero time.
type timeCol struct{ dst *time.Time }

func (c timeCol) ScanTimestamptz(ts pgtype.Timestamptz) error {
	if !ts.Valid {
		*c.dst = time.Time{}
		return nil
	}
	*c.dst = ts.Time.UTC()
	return nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func addrText(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}
