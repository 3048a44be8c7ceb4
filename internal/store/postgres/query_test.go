package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

func TestQuery_Build(t *testing.T) {
	since := time.Unix(100, 0)
	q := newQuery(`SELECT id FROM markets WHERE 1=1`)
	q.where("state = %s", "active")
	q.window("created_at", domain.ListOpts{Since: &since})
	q.order("seq ASC")
	q.page(domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t,
		`SELECT id FROM markets WHERE 1=1 AND state = $1 AND created_at >= $2 ORDER BY seq ASC LIMIT $3 OFFSET $4`,
		q.sql)
	assert.Equal(t, []any{"active", since, 10, 20}, q.args)
}

func TestAmountCol(t *testing.T) {
	tests := []struct {
		name    string
		in      pgtype.Numeric
		want    uint64
		wantErr bool
	}{
		{"plain", pgtype.Numeric{Int: big.NewInt(42), Valid: true}, 42, false},
		{"scaled up", pgtype.Numeric{Int: big.NewInt(15), Exp: 3, Valid: true}, 15_000, false},
		{"scaled down exact", pgtype.Numeric{Int: big.NewInt(1500), Exp: -2, Valid: true}, 15, false},
		{"fractional", pgtype.Numeric{Int: big.NewInt(1501), Exp: -2, Valid: true}, 0, true},
		{"null", pgtype.Numeric{}, 0, false},
		{"max", amount(^uint64(0)), ^uint64(0), false},
		{"too large", pgtype.Numeric{Int: new(big.Int).Lsh(big.NewInt(1), 64), Valid: true}, 0, true},
		{"negative", pgtype.Numeric{Int: big.NewInt(-1), Valid: true}, 0, true},
		{"nan", pgtype.Numeric{NaN: true, Valid: true}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uint64
			err := amountCol{&got}.ScanNumeric(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddrCol(t *testing.T) {
	var a common.Address
	require.NoError(t, addrCol{&a}.ScanText(pgtype.Text{String: "", Valid: true}))
	assert.Equal(t, common.Address{}, a)

	addr := common.HexToAddress("0xa11ce")
	require.NoError(t, addrCol{&a}.ScanText(pgtype.Text{String: addr.Hex(), Valid: true}))
	assert.Equal(t, addr, a)
	assert.Equal(t, addr.Hex(), addrText(addr))
	assert.Empty(t, addrText(common.Address{}))

	assert.Error(t, addrCol{&a}.ScanText(pgtype.Text{String: "nope", Valid: true}))
}

func TestTimeCol(t *testing.T) {
	var ts time.Time
	require.NoError(t, timeCol{&ts}.ScanTimestamptz(pgtype.Timestamptz{}))
	assert.True(t, ts.IsZero())
	assert.False(t, nullTime(time.Time{}).Valid)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, timeCol{&ts}.ScanTimestamptz(nullTime(now)))
	assert.True(t, now.Equal(ts))
}

func TestDecodeData_KeepsLargeNumbers(t *testing.T) {
	got, err := decodeData([]byte(`{"amount": 18446744073709551615, "kind": "yes"}`))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", got["amount"].(interface{ String() string }).String())
	assert.Equal(t, "yes", got["kind"])

	empty, err := decodeData(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/settle?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "settle", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
