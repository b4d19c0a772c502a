package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketops/boxoffice/internal/domain"
)

func TestNewMoney(t *testing.T) {
	m, err := domain.NewMoney("150.00", "USD")
	require.NoError(t, err)
	assert.Equal(t, "150", m.AmountString())
	assert.Equal(t, "USD", m.Currency)

	_, err = domain.NewMoney("abc", "USD")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = domain.NewMoney("-1", "USD")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = domain.NewMoney("10", "usd")
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = domain.NewMoney("10", "USDT")
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestMoneyEqualIgnoresScale(t *testing.T) {
	a := domain.MustMoney("150", "USD")
	b := domain.MustMoney("150.00", "USD")
	c := domain.MustMoney("150", "EUR")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestMoneyArithmetic(t *testing.T) {
	price := domain.MustMoney("150", "USD")

	total := price.MulInt(3)
	assert.Equal(t, "450", total.AmountString())
	assert.Equal(t, "USD", total.Currency)

	sum, err := total.Add(domain.MustMoney("0.50", "USD"))
	require.NoError(t, err)
	assert.Equal(t, "450.5", sum.AmountString())

	_, err = total.Add(domain.MustMoney("1", "EUR"))
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestMoneyExactDecimal(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3, no float drift.
	a := domain.MustMoney("0.1", "USD")
	b := domain.MustMoney("0.2", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "0.3", sum.AmountString())
}
