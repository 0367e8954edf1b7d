package payment

import (
	"errors"
	"testing"
)

func TestMoneyValidate(t *testing.T) {
	valid := []Money{
		NewMoney("100", "USD"),
		NewMoney("1", "eur"),
		NewMoney("999999999999999999999999", "JPY"),
	}
	for _, m := range valid {
		if err := m.Validate(); err != nil {
			t.Fatalf("expected %+v valid, got %v", m, err)
		}
	}

	invalid := []Money{
		NewMoney("-100", "USD"),
		NewMoney("0", "USD"),
		NewMoney("12.50", "USD"),
		NewMoney("abc", "USD"),
		NewMoney("", "USD"),
		NewMoney("100", "DOLLARS"),
		NewMoney("100", ""),
	}
	for _, m := range invalid {
		if err := m.Validate(); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", m, err)
		}
	}
}

func TestNewMoneyUppercasesCurrency(t *testing.T) {
	if m := NewMoney("100", "usd"); m.Currency != "USD" {
		t.Fatalf("unexpected currency: %s", m.Currency)
	}
}

func TestMoneyFee(t *testing.T) {
	cases := []struct {
		amount string
		fee    string
	}{
		{"1000", "20"},
		{"100", "2"},
		{"99", "1"},
		{"49", "0"},
		{"50", "1"},
		{"1", "0"},
		{"1000000000000000000000", "20000000000000000000"},
	}
	for _, tc := range cases {
		fee, err := NewMoney(tc.amount, "USD").Fee()
		if err != nil {
			t.Fatalf("fee(%s): %v", tc.amount, err)
		}
		if fee.Amount != tc.fee {
			t.Fatalf("fee(%s): expected %s, got %s", tc.amount, tc.fee, fee.Amount)
		}
		if fee.Currency != "USD" {
			t.Fatalf("fee must keep the currency, got %s", fee.Currency)
		}
	}

	if _, err := NewMoney("nope", "USD").Fee(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
