package order

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

func TestRecordTotal(t *testing.T) {
	rec := Record{Items: []Item{
		{ProductCode: "P1", Quantity: 10, UnitPrice: 1000},
		{ProductCode: "P2", Quantity: 3, UnitPrice: 125},
	}}

	assert.Equal(t, Money(10375), rec.Total())
	assert.Equal(t, "103.75", rec.Total().String())
}

func TestWithStatusCopies(t *testing.T) {
	rec := sampleRecord()

	out := rec.WithStatus(StatusAccept, SourceInventory)
	out.Items[0].Quantity = 99

	assert.Equal(t, StatusNew, rec.Status)
	assert.Equal(t, SourceNone, rec.Source)
	assert.Equal(t, 10, rec.Items[0].Quantity, "original items must not be shared")
	assert.Equal(t, StatusAccept, out.Status)
	assert.Equal(t, SourceInventory, out.Source)
	assert.Equal(t, rec.OrderID, out.OrderID)
}

func TestStatusStages(t *testing.T) {
	assert.Equal(t, 0, StatusNew.Stage())
	assert.Equal(t, 1, StatusAccept.Stage())
	assert.Equal(t, 1, StatusReject.Stage())
	assert.Equal(t, 2, StatusConfirmed.Stage())
	assert.Equal(t, 2, StatusRollback.Stage())
	assert.Equal(t, -1, StatusUnknown.Stage())

	assert.True(t, StatusRollback.Terminal())
	assert.False(t, StatusAccept.Terminal())
	assert.True(t, StatusReject.Outcome())
	assert.False(t, StatusNew.Outcome())
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusAccept, StatusReject, StatusConfirmed, StatusRollback} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("REJECTED")
	require.Error(t, err)
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "10", want: 1000},
		{in: "10.5", want: 1050},
		{in: "10.05", want: 1005},
		{in: "0.01", want: 1},
		{in: "-3.25", want: -325},
		{in: "1000.00", want: 100000},
		{in: "92233720368547758.07", want: math.MaxInt64},
		{in: "92233720368547758.08", wantErr: true},
		{in: "184467440737095517.00", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
		{in: "1.005", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "1.", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "900.00", Money(90000).String())
	assert.Equal(t, "-0.50", Money(-50).String())
	assert.Equal(t, "0.00", Money(0).String())
}

func TestMoneyCheckedArithmetic(t *testing.T) {
	got, ok := Money(250).Times(4)
	assert.True(t, ok)
	assert.Equal(t, Money(1000), got)

	_, ok = Money(1 << 62).Times(2)
	assert.False(t, ok)

	got, ok = Money(math.MaxInt64 - 1).Plus(1)
	assert.True(t, ok)
	assert.Equal(t, Money(math.MaxInt64), got)

	_, ok = Money(math.MaxInt64).Plus(1)
	assert.False(t, ok)
}

func TestValidateBounds(t *testing.T) {
	withItems := func(items ...Item) Record {
		return Record{OrderID: "1", CustomerID: 1, Status: StatusNew, Items: items}
	}

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{name: "max quantity", rec: withItems(Item{ProductCode: "P1", Quantity: MaxQuantity, UnitPrice: 1})},
		{name: "max price", rec: withItems(Item{ProductCode: "P1", Quantity: 1, UnitPrice: math.MaxInt64})},
		{name: "quantity above max", rec: withItems(Item{ProductCode: "P1", Quantity: MaxQuantity + 1, UnitPrice: 1}), wantErr: true},
		{name: "merged quantity above max", rec: withItems(
			Item{ProductCode: "P1", Quantity: MaxQuantity, UnitPrice: 1},
			Item{ProductCode: "P1", Quantity: 1, UnitPrice: 1},
		), wantErr: true},
		{name: "wrapping quantities", rec: withItems(
			Item{ProductCode: "P1", Quantity: math.MaxInt, UnitPrice: 1},
			Item{ProductCode: "P1", Quantity: math.MaxInt, UnitPrice: 1},
			Item{ProductCode: "P1", Quantity: 3, UnitPrice: 1},
		), wantErr: true},
		{name: "same quantity on distinct products", rec: withItems(
			Item{ProductCode: "P1", Quantity: MaxQuantity, UnitPrice: 1},
			Item{ProductCode: "P2", Quantity: MaxQuantity, UnitPrice: 1},
		)},
		{name: "line total overflows", rec: withItems(Item{ProductCode: "P1", Quantity: 2, UnitPrice: 1<<62 + 1}), wantErr: true},
		{name: "order total overflows", rec: withItems(
			Item{ProductCode: "P1", Quantity: 1, UnitPrice: math.MaxInt64},
			Item{ProductCode: "P2", Quantity: 1, UnitPrice: 1},
		), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrMalformed)
				return
			}
			require.NoError(t, err)
		})
	}
}
