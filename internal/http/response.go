package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

// envelope wraps every query answer with its provenance.
type envelope struct {
	Data        any        `json:"data"`
	Source      string     `json:"source"`
	Stale       bool       `json:"stale"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Class     string `json:"class,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type categoryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type transactionDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	AccountID   string `json:"account_id"`
	CategoryID  string `json:"category_id,omitempty"`
	PayeeID     string `json:"payee_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type budgetDTO struct {
	CategoryID    string `json:"category_id"`
	Month         string `json:"month"`
	Budgeted      string `json:"budgeted"`
	BudgetedCents int64  `json:"budgeted_cents"`
	Spent         string `json:"spent,omitempty"`
	SpentCents    *int64 `json:"spent_cents,omitempty"`
}

type categoryAmountDTO struct {
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
}

type spendingDTO struct {
	Start      string              `json:"start"`
	End        string              `json:"end"`
	Total      string              `json:"total"`
	TotalCents int64               `json:"total_cents"`
	ByCategory []categoryAmountDTO `json:"by_category"`
}

type refreshDTO struct {
	RunID      string            `json:"run_id"`
	Published  bool              `json:"published"`
	Complete   bool              `json:"complete"`
	Joined     bool              `json:"joined"`
	Version    uint64            `json:"version"`
	DurationMs int64             `json:"duration_ms"`
	Failed     map[string]string `json:"failed,omitempty"`
	Counts     map[string]int    `json:"counts,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func toTransactions(txs []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, len(txs))
	for i, t := range txs {
		out[i] = transactionDTO{
			ID:          t.ID,
			Date:        t.Date.String(),
			Amount:      t.Amount.String(),
			AmountCents: t.Amount.Cents,
			AccountID:   t.AccountID,
			CategoryID:  t.CategoryID,
			PayeeID:     t.PayeeID,
			Notes:       t.Notes,
		}
	}
	return out
}

func toBudget(b core.BudgetEntry) budgetDTO {
	dto := budgetDTO{
		CategoryID:    b.CategoryID,
		Month:         b.Month.Key(),
		Budgeted:      b.Budgeted.String(),
		BudgetedCents: b.Budgeted.Cents,
	}
	if b.HasSpent {
		cents := b.Spent.Cents
		dto.Spent = b.Spent.String()
		dto.SpentCents = &cents
	}
	return dto
}

func toSpending(s core.SpendingSummary) spendingDTO {
	dto := spendingDTO{
		Start:      s.Range.Start.String(),
		End:        s.Range.End.String(),
		Total:      s.Total.String(),
		TotalCents: s.Total.Cents,
		ByCategory: make([]categoryAmountDTO, len(s.ByCategory)),
	}
	for i, c := range s.ByCategory {
		dto.ByCategory[i] = categoryAmountDTO{Name: c.Name, Amount: c.Amount.String(), AmountCents: c.Amount.Cents}
	}
	return dto
}

func toRefresh(res cache.RefreshResult) refreshDTO {
	dto := refreshDTO{
		RunID:      res.RunID,
		Published:  res.Published,
		Complete:   res.Complete,
		Joined:     res.Joined,
		Version:    res.Version,
		DurationMs: res.Duration().Milliseconds(),
	}
	if len(res.Failed) > 0 {
		dto.Failed = make(map[string]string, len(res.Failed))
		for c, err := range res.Failed {
			dto.Failed[c.String()] = err.Error()
		}
	}
	if len(res.Counts) > 0 {
		dto.Counts = make(map[string]int, len(res.Counts))
		for c, n := range res.Counts {
			dto.Counts[c.String()] = n
		}
	}
	if res.Cause != nil {
		dto.Error = res.Cause.Error()
	}
	return dto
}

// answerEnvelope maps an accessor answer onto the wire envelope.
func answerEnvelope[T any](ans cache.Answer[T], data any) envelope {
	env := envelope{
		Data:   data,
		Source: string(ans.Source),
		Stale:  ans.Stale,
	}
	if !ans.RefreshedAt.IsZero() {
		at := ans.RefreshedAt
		env.RefreshedAt = &at
	}
	return env
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to encode response", log.FieldError, err.Error())
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	ctx := r.Context()
	logger := log.FromContext(ctx)
	if status >= 500 {
		logger.ErrorContext(ctx, "Request failed", log.FieldError, err.Error(), log.FieldErrorType, kind)
	} else {
		logger.DebugContext(ctx, "Request rejected", log.FieldError, err.Error(), log.FieldErrorType, kind)
	}
	body := errorBody{Error: err.Error(), Kind: kind}
	if class, ok := ledger.FailedClass(err); ok {
		body.Class = class.String()
	}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		body.RequestID = id
	}
	writeJSON(w, r, status, body)
}

func classify(err error) (int, string) {
	var fe *ledger.FetchError
	switch {
	case errors.Is(err, cache.ErrUnknownReference):
		return http.StatusNotFound, "unknown_reference"
	case errors.Is(err, cache.ErrRefreshInProgress):
		return http.StatusConflict, "refresh_in_progress"
	case errors.Is(err, errBadParam),
		errors.Is(err, core.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidMonth):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, errNotReady):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
