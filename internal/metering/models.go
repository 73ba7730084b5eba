package metering

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/pricing"
	"github.com/shopspring/decimal"
)

// Category classifies a conversation into a usage bucket (usually the page or
// feature that opened it).
type Category string

const (
	// CategoryTotal is the reserved bucket holding the sum of every category.
	CategoryTotal Category = "total"
	// CategoryUnknown is used for log records without a usable label.
	CategoryUnknown Category = "unknown"
)

// ParseCategory normalizes a free-form label. Labels are trimmed and
// lower-cased so "Chat " and "chat" land in the same bucket. Empty labels and
// labels that collide with the reserved total bucket become CategoryUnknown.
func ParseCategory(raw string) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || Category(s) == CategoryTotal {
		return CategoryUnknown
	}
	return Category(s)
}

// Row is one persisted (date, category) aggregate.
type Row struct {
	Date         calendar.Date
	Category     Category
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Model        string
	InputPrice   decimal.Decimal
	OutputPrice  decimal.Decimal
	TotalPrice   decimal.Decimal
	UpdatedAt    time.Time
}

// NewRow builds a row for the given counts and priced amount.
func NewRow(date calendar.Date, cat Category, model string, input, output int64, amount pricing.Amount) Row {
	return Row{
		Date:         date,
		Category:     cat,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		Model:        model,
		InputPrice:   amount.Input,
		OutputPrice:  amount.Output,
		TotalPrice:   amount.Total,
	}
}

type rowJSON struct {
	Date         calendar.Date `json:"date"`
	Category     Category      `json:"token_type"`
	InputTokens  int64         `json:"input_token_cnt"`
	OutputTokens int64         `json:"output_token_cnt"`
	TotalTokens  int64         `json:"total_token_cnt"`
	Model        string        `json:"gpt_model"`
	InputPrice   float64       `json:"input_price"`
	OutputPrice  float64       `json:"output_price"`
	TotalPrice   float64       `json:"total_price"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

// MarshalJSON encodes the row with the table's column names and prices as
// plain numbers, which is what the charting front end expects.
func (r Row) MarshalJSON() ([]byte, error) {
	out := rowJSON{
		Date:         r.Date,
		Category:     r.Category,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		Model:        r.Model,
		InputPrice:   r.InputPrice.InexactFloat64(),
		OutputPrice:  r.OutputPrice.InexactFloat64(),
		TotalPrice:   r.TotalPrice.InexactFloat64(),
	}
	if !r.UpdatedAt.IsZero() {
		out.UpdatedAt = &r.UpdatedAt
	}
	return json.Marshal(out)
}

// RowQuery filters rows. Zero-valued fields are ignored. From and To are
// inclusive; Date selects a single day and takes precedence over the range.
type RowQuery struct {
	Category Category
	Date     calendar.Date
	From     calendar.Date
	To       calendar.Date
}
