package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice(t *testing.T) {
	tests := []struct {
		name       string
		input      int64
		output     int64
		wantInput  string
		wantOutput string
		wantTotal  string
	}{
		{name: "zero", input: 0, output: 0, wantInput: "0", wantOutput: "0", wantTotal: "0"},
		{name: "one million input", input: 1_000_000, output: 0, wantInput: "2.50", wantOutput: "0", wantTotal: "2.50"},
		{name: "one million output", input: 0, output: 1_000_000, wantInput: "0", wantOutput: "10.00", wantTotal: "10.00"},
		{name: "both", input: 300, output: 70, wantInput: "0.00", wantOutput: "0.00", wantTotal: "0.00"},
		{name: "sub-cent rounds down", input: 1, output: 0, wantInput: "0.00", wantOutput: "0", wantTotal: "0.00"},
		// 2000 input tokens cost exactly 0.005, which rounds away from zero.
		{name: "half rounds up", input: 2000, output: 0, wantInput: "0.01", wantOutput: "0", wantTotal: "0.01"},
		{name: "just under half", input: 1999, output: 0, wantInput: "0.00", wantOutput: "0", wantTotal: "0.00"},
		// 500 output tokens cost exactly 0.005.
		{name: "output half rounds up", input: 0, output: 500, wantInput: "0", wantOutput: "0.01", wantTotal: "0.01"},
		// Each half rounds up independently, so the total is 0.02 rather than round(0.01).
		{name: "total is sum of rounded parts", input: 2000, output: 500, wantInput: "0.01", wantOutput: "0.01", wantTotal: "0.02"},
		{name: "large", input: 12_345_678, output: 3_456_789, wantInput: "30.86", wantOutput: "34.57", wantTotal: "65.43"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Price(tt.input, tt.output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Input.Equal(dec(tt.wantInput)) {
				t.Errorf("input cost: got %s, want %s", got.Input, tt.wantInput)
			}
			if !got.Output.Equal(dec(tt.wantOutput)) {
				t.Errorf("output cost: got %s, want %s", got.Output, tt.wantOutput)
			}
			if !got.Total.Equal(dec(tt.wantTotal)) {
				t.Errorf("total cost: got %s, want %s", got.Total, tt.wantTotal)
			}
		})
	}
}

func TestPrice_TotalIsExactSum(t *testing.T) {
	counts := []int64{0, 1, 499, 500, 1999, 2000, 2001, 99_999, 1_000_000, 7_654_321, 1 << 40}
	for _, in := range counts {
		for _, out := range counts {
			a, err := Price(in, out)
			if err != nil {
				t.Fatalf("Price(%d, %d): %v", in, out, err)
			}
			if !a.Total.Equal(a.Input.Add(a.Output)) {
				t.Errorf("Price(%d, %d): total %s != %s + %s", in, out, a.Total, a.Input, a.Output)
			}
			if a.Input.Exponent() < -Places || a.Output.Exponent() < -Places {
				t.Errorf("Price(%d, %d): components not rounded to %d places: %s, %s", in, out, Places, a.Input, a.Output)
			}
		}
	}
}

func TestPrice_Negative(t *testing.T) {
	tests := []struct {
		name   string
		input  int64
		output int64
	}{
		{"negative input", -1, 0},
		{"negative output", 0, -1},
		{"both negative", -5, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Price(tt.input, tt.output)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestMustPrice_PanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative input")
		}
	}()
	MustPrice(-1, 0)
}

func TestZero(t *testing.T) {
	a := MustPrice(0, 0)
	if !a.Input.Equal(Zero.Input) || !a.Output.Equal(Zero.Output) || !a.Total.Equal(Zero.Total) {
		t.Errorf("Price(0, 0) = %+v, want Zero", a)
	}
}
