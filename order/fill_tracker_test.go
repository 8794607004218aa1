package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	ex := Summarize([]Fill{
		{TradeID: 1, Price: d("100"), Qty: d("1")},
		{TradeID: 2, Price: d("102"), Qty: d("3")},
	})
	assert.Equal(t, 2, ex.Fills)
	assert.True(t, ex.ExecutedQty.Equal(d("4")))
	assert.True(t, ex.CumQuote.Equal(d("406")))
	assert.True(t, ex.AvgPrice.Equal(d("101.5")))

	empty := Summarize(nil)
	assert.True(t, empty.AvgPrice.IsZero())
}

func TestFillTrackerDedup(t *testing.T) {
	ft := NewFillTracker()
	assert.True(t, ft.RecordFill("42", Fill{TradeID: 7, Price: d("10"), Qty: d("2")}))
	assert.False(t, ft.RecordFill("42", Fill{TradeID: 7, Price: d("10"), Qty: d("2")}))
	assert.True(t, ft.RecordFill("42", Fill{TradeID: 8, Price: d("12"), Qty: d("2")}))

	sum := ft.Summary("42")
	assert.True(t, sum.ExecutedQty.Equal(d("4")))
	assert.True(t, sum.AvgPrice.Equal(d("11")))

	ft.Forget("42")
	assert.Equal(t, 0, ft.Tracked())
}
