package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidAmountError rejects zero or negative transaction amounts.
type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("transaction amount must be positive, got %s", e.Amount)
}

// InsufficientBalanceError carries the numbers a caller needs to display an
// actionable rejection: how much was required and how far short the balance
// fell.
type InsufficientBalanceError struct {
	Current   decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s (short %s)",
		e.Current, e.Required, e.Shortfall)
}
