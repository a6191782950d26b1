package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts an amount into a NUMERIC parameter. Amounts are
// non-negative.
func numericFromDecimal(amount decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if amount.IsNegative() {
		return out, fmt.Errorf("negative amount %s", amount)
	}
	if err := out.Scan(amount.String()); err != nil {
		return out, fmt.Errorf("encode numeric %s: %w", amount, err)
	}
	return out, nil
}

// decimalFromText parses a NUMERIC column selected as ::text.
func decimalFromText(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("numeric value required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", trimmed, err)
	}
	return d, nil
}
