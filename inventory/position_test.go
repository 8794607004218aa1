package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBookOpenMergesSameSide(t *testing.T) {
	b := NewBook()
	b.Open(Position{Symbol: "BTCUSDT", Side: order.SideBuy, ExecutedQty: d("1"), AvgPrice: d("100"), EntryOrderID: "1", OpenedAt: time.Now()})
	p := b.Open(Position{Symbol: "BTCUSDT", Side: order.SideBuy, ExecutedQty: d("1"), AvgPrice: d("110"), EntryOrderID: "2"})

	assert.True(t, p.ExecutedQty.Equal(d("2")))
	assert.True(t, p.AvgPrice.Equal(d("105")))
	assert.Equal(t, "2", p.EntryOrderID)
	assert.Equal(t, 1, b.Count())
}

func TestBookOppositeSideReduces(t *testing.T) {
	b := NewBook()
	b.Open(Position{Symbol: "ETHUSDT", Side: order.SideBuy, ExecutedQty: d("2"), AvgPrice: d("3000")})

	p := b.Open(Position{Symbol: "ETHUSDT", Side: order.SideSell, ExecutedQty: d("0.5"), AvgPrice: d("3100")})
	assert.True(t, p.ExecutedQty.Equal(d("1.5")))

	_, ok := b.Reduce("ETHUSDT", d("1.5"))
	assert.False(t, ok)
	assert.Equal(t, 0, b.Count())
}

func TestBookAttachBracket(t *testing.T) {
	b := NewBook()
	assert.False(t, b.AttachBracket("BTCUSDT", BracketRecord{Kind: "OCO"}))

	b.Open(Position{Symbol: "BTCUSDT", Side: order.SideBuy, ExecutedQty: d("0.01"), AvgPrice: d("50000")})
	require.True(t, b.AttachBracket("BTCUSDT", BracketRecord{Kind: "SEPARATE", Fallback: true, OrderIDs: []string{"11", "12"}}))

	p, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	require.Len(t, p.Brackets, 1)
	assert.True(t, p.Brackets[0].Fallback)

	// 返回的是拷贝
	p.Brackets[0].Kind = "changed"
	again, _ := b.Get("BTCUSDT")
	assert.Equal(t, "SEPARATE", again.Brackets[0].Kind)
}

func TestBookSnapshotSorted(t *testing.T) {
	b := NewBook()
	b.Open(Position{Symbol: "XRPUSDT", Side: order.SideBuy, ExecutedQty: d("1"), AvgPrice: d("1")})
	b.Open(Position{Symbol: "ADAUSDT", Side: order.SideBuy, ExecutedQty: d("1"), AvgPrice: d("1")})
	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "ADAUSDT", snap[0].Symbol)

	assert.True(t, b.Close("ADAUSDT"))
	assert.False(t, b.Close("ADAUSDT"))
}

func TestUnrealizedPnL(t *testing.T) {
	long := Position{Side: order.SideBuy, ExecutedQty: d("2"), AvgPrice: d("100")}
	assert.True(t, long.UnrealizedPnL(d("110")).Equal(d("20")))

	short := Position{Side: order.SideSell, ExecutedQty: d("2"), AvgPrice: d("100")}
	assert.True(t, short.UnrealizedPnL(d("110")).Equal(d("-20")))
}
