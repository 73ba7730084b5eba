package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/alecgard/usagedash/internal/aggregate"
	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/metering"
	"github.com/alecgard/usagedash/internal/report"
)

// Aggregator runs the aggregation pipeline.
type Aggregator interface {
	RunDaily(ctx context.Context, date calendar.Date) (*aggregate.Result, error)
	Estimate(ctx context.Context, date calendar.Date) (*aggregate.Result, error)
}

// Reporter answers the read-side queries.
type Reporter interface {
	Daily(ctx context.Context, month calendar.Month) ([]report.DayTotal, error)
	Monthly(ctx context.Context) ([]report.MonthTotal, error)
	ByCategory(ctx context.Context, cat metering.Category) ([]metering.Row, error)
	ForDate(ctx context.Context, date calendar.Date) ([]metering.Row, error)
	All(ctx context.Context) ([]metering.Row, error)
}

// tokensHandler groups the dashboard's token endpoints.
type tokensHandler struct {
	pipeline Aggregator
	reports  Reporter
	clock    *calendar.Clock
}

func newTokensHandler(pipeline Aggregator, reports Reporter, clock *calendar.Clock) *tokensHandler {
	return &tokensHandler{pipeline: pipeline, reports: reports, clock: clock}
}

type totals struct {
	TotalTokens int64   `json:"totalTokens"`
	TotalPrice  float64 `json:"totalPrice"`
}

type dailyResponse struct {
	Message   string            `json:"message"`
	DailyData map[string]totals `json:"dailyData"`
}

// GetDaily serves per-day totals for ?month=YYYY-MM, defaulting to the
// current month.
func (h *tokensHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	month := calendar.MonthOf(h.clock.Today())
	if s := r.URL.Query().Get("month"); s != "" {
		m, err := calendar.ParseMonth(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid month, expected YYYY-MM")
			return
		}
		month = m
	}

	days, err := h.reports.Daily(r.Context(), month)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := dailyResponse{Message: "Daily token data fetched successfully", DailyData: make(map[string]totals, len(days))}
	if len(days) == 0 {
		resp.Message = "No data available"
	}
	for _, d := range days {
		resp.DailyData[d.Date.String()] = totals{TotalTokens: d.TotalTokens, TotalPrice: d.TotalPrice.InexactFloat64()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type monthlyResponse struct {
	Message     string            `json:"message"`
	MonthlyData map[string]totals `json:"monthlyData"`
}

// GetMonthly serves per-month totals over every recorded month.
func (h *tokensHandler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	months, err := h.reports.Monthly(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := monthlyResponse{Message: "Monthly token data fetched successfully", MonthlyData: make(map[string]totals, len(months))}
	if len(months) == 0 {
		resp.Message = "No data available"
	}
	for _, m := range months {
		resp.MonthlyData[m.Month] = totals{TotalTokens: m.TotalTokens, TotalPrice: m.TotalPrice.InexactFloat64()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type todayResponse struct {
	TotalTokens int64   `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
}

// GetToday aggregates today's logs live without persisting anything.
func (h *tokensHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.Estimate(r.Context(), h.clock.Today())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, todayResponse{
		TotalTokens: res.Total.TotalTokens,
		TotalCost:   res.Total.TotalPrice.InexactFloat64(),
	})
}

type tokenTypeResponse struct {
	TokenTypeData []metering.Row `json:"tokenTypeData"`
}

type tokenTypeRequest struct {
	Category string `json:"category"`
}

// GetTokenTypeData serves raw rows, optionally narrowed to one category given
// as ?category= or, for POST, a JSON body {"category": ...}.
func (h *tokensHandler) GetTokenTypeData(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if r.Method == http.MethodPost && category == "" && r.Body != nil {
		var req tokenTypeRequest
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		category = req.Category
	}

	var (
		rows []metering.Row
		err  error
	)
	if category != "" {
		rows, err = h.reports.ByCategory(r.Context(), metering.ParseCategory(category))
	} else {
		rows, err = h.reports.All(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []metering.Row{}
	}

	w.Header().Set("Cache-Control", "no-store, max-age=0")
	writeJSON(w, http.StatusOK, tokenTypeResponse{TokenTypeData: rows})
}

type storedCount struct {
	Input  int64  `json:"input"`
	Output int64  `json:"output"`
	Model  string `json:"model"`
}

type storedCountsResponse struct {
	Message     string                 `json:"message"`
	TokenCounts map[string]storedCount `json:"tokenCounts"`
}

// GetTokens serves today's stored per-category counts without re-aggregating.
func (h *tokensHandler) GetTokens(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.ForDate(r.Context(), h.clock.Today())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := storedCountsResponse{Message: "Tokens fetched successfully", TokenCounts: make(map[string]storedCount, len(rows))}
	if len(rows) == 0 {
		resp.Message = "No data for today"
	}
	for _, row := range rows {
		resp.TokenCounts[string(row.Category)] = storedCount{
			Input:  row.InputTokens,
			Output: row.OutputTokens,
			Model:  row.Model,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type pricedCount struct {
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Price  float64 `json:"price"`
}

type updateResponse struct {
	Message     string                 `json:"message"`
	Date        string                 `json:"date"`
	TokenCounts map[string]pricedCount `json:"tokenCounts"`
}

// UpdateTokens runs the pipeline for ?date=YYYY-MM-DD, defaulting to today,
// and persists the result. tokenCounts is keyed by normalized category:
// labels are trimmed and lower-cased, so "Chat" and "chat" are reported
// together under "chat", and empty labels appear as "unknown".
func (h *tokensHandler) UpdateTokens(w http.ResponseWriter, r *http.Request) {
	date := h.clock.Today()
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := calendar.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		date = d
	}

	res, err := h.pipeline.RunDaily(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := updateResponse{
		Message:     "Tokens updated successfully by token type",
		Date:        date.String(),
		TokenCounts: make(map[string]pricedCount),
	}
	if res.NoData {
		resp.Message = "No data for the requested day"
	}
	for _, row := range res.Rows() {
		resp.TokenCounts[string(row.Category)] = pricedCount{
			Input:  row.InputTokens,
			Output: row.OutputTokens,
			Price:  row.TotalPrice.InexactFloat64(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
