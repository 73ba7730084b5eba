// Package pricing converts token counts into USD amounts using fixed
// per-million-token rates.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidArgument is returned for negative token counts.
var ErrInvalidArgument = errors.New("invalid argument")

// Places is the number of decimal places every amount is rounded to.
const Places = 2

var (
	million = decimal.NewFromInt(1_000_000)

	// InputRate is the USD price of one million input (prompt) tokens.
	InputRate = decimal.RequireFromString("2.50")
	// OutputRate is the USD price of one million output (completion) tokens.
	OutputRate = decimal.RequireFromString("10.00")
)

// Amount is a priced token count. Input and Output are each rounded half away
// from zero to Places; Total is their exact sum.
type Amount struct {
	Input  decimal.Decimal
	Output decimal.Decimal
	Total  decimal.Decimal
}

// Zero is the amount for no usage.
var Zero = Amount{Input: decimal.Zero, Output: decimal.Zero, Total: decimal.Zero}

// Price computes the cost of inputTokens and outputTokens.
func Price(inputTokens, outputTokens int64) (Amount, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Amount{}, fmt.Errorf("%w: token counts must be non-negative (input=%d, output=%d)",
			ErrInvalidArgument, inputTokens, outputTokens)
	}

	in := cost(inputTokens, InputRate)
	out := cost(outputTokens, OutputRate)
	return Amount{Input: in, Output: out, Total: in.Add(out)}, nil
}

// MustPrice is like Price but panics on invalid input. It is meant for counts
// that were accumulated from already-validated usage records.
func MustPrice(inputTokens, outputTokens int64) Amount {
	a, err := Price(inputTokens, outputTokens)
	if err != nil {
		panic(err)
	}
	return a
}

func cost(tokens int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Div(million).Mul(rate).Round(Places)
}
