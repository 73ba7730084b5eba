// Package report reshapes persisted token metrics for the dashboard charts.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/metering"
	"github.com/shopspring/decimal"
)

// ErrDataSource wraps failures reading the metrics store.
var ErrDataSource = errors.New("data source error")

// RowLister is the read side of the metrics store.
type RowLister interface {
	List(ctx context.Context, q metering.RowQuery) ([]metering.Row, error)
}

// Service answers the dashboard's read queries.
type Service struct {
	rows RowLister
}

// NewService creates a Service over rows.
func NewService(rows RowLister) *Service {
	return &Service{rows: rows}
}

// DayTotal is the total usage of one day.
type DayTotal struct {
	Date        calendar.Date
	TotalTokens int64
	TotalPrice  decimal.Decimal
}

// MonthTotal is the total usage of one month.
type MonthTotal struct {
	Month       string
	TotalTokens int64
	TotalPrice  decimal.Decimal
}

// Daily returns one entry per date in month that has a total row, ordered by
// date. Rows sharing a date are summed.
func (s *Service) Daily(ctx context.Context, month calendar.Month) ([]DayTotal, error) {
	rows, err := s.list(ctx, metering.RowQuery{
		Category: metering.CategoryTotal,
		From:     month.First(),
		To:       month.Last(),
	})
	if err != nil {
		return nil, err
	}

	var out []DayTotal
	idx := make(map[calendar.Date]int)
	for _, r := range rows {
		i, ok := idx[r.Date]
		if !ok {
			i = len(out)
			idx[r.Date] = i
			out = append(out, DayTotal{Date: r.Date, TotalPrice: decimal.Zero})
		}
		out[i].TotalTokens += r.TotalTokens
		out[i].TotalPrice = out[i].TotalPrice.Add(r.TotalPrice)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Monthly groups every total row by YYYY-MM, ordered by month.
func (s *Service) Monthly(ctx context.Context) ([]MonthTotal, error) {
	rows, err := s.list(ctx, metering.RowQuery{Category: metering.CategoryTotal})
	if err != nil {
		return nil, err
	}

	var out []MonthTotal
	idx := make(map[string]int)
	for _, r := range rows {
		key := r.Date.MonthKey()
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, MonthTotal{Month: key, TotalPrice: decimal.Zero})
		}
		out[i].TotalTokens += r.TotalTokens
		out[i].TotalPrice = out[i].TotalPrice.Add(r.TotalPrice)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// ByCategory returns every row of one category ordered by date.
func (s *Service) ByCategory(ctx context.Context, cat metering.Category) ([]metering.Row, error) {
	rows, err := s.list(ctx, metering.RowQuery{Category: cat})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

// ForDate returns every row stored for date.
func (s *Service) ForDate(ctx context.Context, date calendar.Date) ([]metering.Row, error) {
	return s.list(ctx, metering.RowQuery{Date: date})
}

// All returns every stored row.
func (s *Service) All(ctx context.Context) ([]metering.Row, error) {
	return s.list(ctx, metering.RowQuery{})
}

func (s *Service) list(ctx context.Context, q metering.RowQuery) ([]metering.Row, error) {
	rows, err := s.rows.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	return rows, nil
}
