package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnderpaid          = errors.New("received amount is less than total")
	ErrUnsupportedPayment = errors.New("unsupported payment type")
)

var hundred = decimal.NewFromInt(100)

// LineAmounts prices one cart line. Tax is charged on the undiscounted gross,
// matching how the register displays it.
func LineAmounts(price int64, qty int, taxRate float64, discount int64) (gross int64, tax int64, total int64) {
	gross = price * int64(qty)
	tax = decimal.NewFromInt(price).
		Mul(decimal.NewFromFloat(taxRate)).
		Mul(decimal.NewFromInt(int64(qty))).
		Div(hundred).
		Round(0).
		IntPart()
	total = gross + tax - discount
	return gross, tax, total
}

type SaleTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Total    int64
}

func SumItems(items []SaleItem) SaleTotals {
	var t SaleTotals
	for _, item := range items {
		t.Subtotal += item.Price * int64(item.Qty)
		t.Discount += item.Discount
		t.Tax += item.Tax
	}
	t.Total = t.Subtotal - t.Discount + t.Tax
	return t
}

type Settlement struct {
	ReceivedAmount int64
	DebtAmount     int64
	ChangeAmount   int64
}

// Settle applies the payment rules for a sale total.
func Settle(paymentType string, total int64, received int64) (Settlement, error) {
	if received < 0 {
		return Settlement{}, ErrUnderpaid
	}
	switch paymentType {
	case PaymentCash, PaymentCard, PaymentMobile:
		if received < total {
			return Settlement{}, ErrUnderpaid
		}
		return Settlement{ReceivedAmount: received, ChangeAmount: received - total}, nil
	case PaymentDebt:
		return Settlement{DebtAmount: total}, nil
	case PaymentPartial:
		debt := total - received
		if debt < 0 {
			debt = 0
		}
		return Settlement{ReceivedAmount: received, DebtAmount: debt}, nil
	default:
		return Settlement{}, ErrUnsupportedPayment
	}
}

func RequiresCustomer(paymentType string) bool {
	return paymentType == PaymentPartial || paymentType == PaymentDebt
}

// MaxLineDiscount is the largest discount a non-privileged cashier may give on
// a line with the given gross.
func MaxLineDiscount(gross int64, maxPercent float64) int64 {
	if maxPercent <= 0 {
		return 0
	}
	return decimal.NewFromInt(gross).
		Mul(decimal.NewFromFloat(maxPercent)).
		Div(hundred).
		Floor().
		IntPart()
}

// ReturnLineTotal refunds the per-unit share of the sold line (price less
// discount plus tax) for qty of soldQty units.
func ReturnLineTotal(item SaleItem, qty int) int64 {
	if item.Qty < 1 || qty < 1 {
		return 0
	}
	if qty == item.Qty {
		return item.Total
	}
	return decimal.NewFromInt(item.Total).
		Mul(decimal.NewFromInt(int64(qty))).
		Div(decimal.NewFromInt(int64(item.Qty))).
		Round(0).
		IntPart()
}

// ReturnShare is the refund for qty more units when alreadyReturned units of
// the line were refunded before. Shares of a fully returned line add up to
// the line total exactly.
func ReturnShare(item SaleItem, alreadyReturned int, qty int) int64 {
	return ReturnLineTotal(item, alreadyReturned+qty) - ReturnLineTotal(item, alreadyReturned)
}
