package payment

import (
	"fmt"
	"math/big"
	"strings"
)

// Money is an exact-precision monetary value: an ISO 4217 currency code
// and a minor-unit amount carried as a decimal string. Amounts are never
// represented as floating point anywhere in the system.
type Money struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// NewMoney builds a Money value, uppercasing the currency code.
func NewMoney(amount, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: strings.ToUpper(currency),
	}
}

// Validate checks that the amount is a positive integer in minor units
// and the currency is a three-letter code. Violations wrap
// ErrInvalidRequest.
func (m Money) Validate() error {
	if len(m.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrInvalidRequest)
	}
	amount, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok {
		return fmt.Errorf("%w: amount %q is not an integer", ErrInvalidRequest, m.Amount)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// Fee returns the processing fee for the amount: 2%, floored to an
// integer minor unit. The receiver must be valid.
func (m Money) Fee() (Money, error) {
	amount, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok {
		return Money{}, fmt.Errorf("%w: amount %q is not an integer", ErrInvalidRequest, m.Amount)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(2))
	fee.Quo(fee, big.NewInt(100))
	return Money{Currency: m.Currency, Amount: fee.String()}, nil
}
