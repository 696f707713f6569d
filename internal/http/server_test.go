package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger/memory"
	"ledgercache/internal/storage"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func testData() memory.Data {
	d := memory.Defaults()
	d.Transactions = []core.Transaction{
		{ID: "t1", Date: core.NewDate(2024, 5, 2), Amount: core.Money{Cents: -12000}, AccountID: "acc-checking", CategoryID: "cat-groceries", PayeeID: "pay-market"},
		{ID: "t2", Date: core.NewDate(2024, 5, 3), Amount: core.Money{Cents: -100000}, AccountID: "acc-checking", CategoryID: "cat-rent", PayeeID: "pay-landlord"},
		{ID: "t3", Date: core.NewDate(2024, 5, 5), Amount: core.Money{Cents: -700}, AccountID: "acc-checking"},
		{ID: "t4", Date: core.NewDate(2024, 4, 20), Amount: core.Money{Cents: -4000}, AccountID: "acc-checking", CategoryID: "cat-groceries"},
	}
	d.Budgets = []core.BudgetEntry{
		{CategoryID: "cat-groceries", Month: core.NewMonth(2024, 5), Budgeted: core.Money{Cents: 50000}, Spent: core.Money{Cents: 12000}, HasSpent: true},
	}
	return d
}

type fakeHistory struct {
	runs []storage.RunRecord
	err  error
}

func (f fakeHistory) List(_ context.Context, limit int) ([]storage.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

// failingReader fails every upstream read.
type failingReader struct{}

var errUpstreamDown = errors.New("upstream down")

func (failingReader) FetchCategories(context.Context) ([]core.Category, error) {
	return nil, errUpstreamDown
}
func (failingReader) FetchAccounts(context.Context) ([]core.Account, error) {
	return nil, errUpstreamDown
}
func (failingReader) FetchPayees(context.Context) ([]core.Payee, error) { return nil, errUpstreamDown }
func (failingReader) FetchTransactions(context.Context, core.Date, core.Date) ([]core.Transaction, error) {
	return nil, errUpstreamDown
}
func (failingReader) FetchBudget(context.Context, core.Month) ([]core.BudgetEntry, error) {
	return nil, errUpstreamDown
}

func newTestServer(t *testing.T, opts Options, refresh bool) *Server {
	t.Helper()
	engine := cache.NewEngine(memory.New(testData()), cache.NewStore(), cache.Options{
		Now: func() time.Time { return testNow },
	})
	t.Cleanup(engine.Close)
	if refresh {
		if res := engine.Refresh(context.Background()); !res.Published {
			t.Fatalf("initial refresh failed: %v", res.Err())
		}
	}
	s := NewServer(cache.NewAccessor(engine), opts)
	s.now = func() time.Time { return testNow }
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("User-Agent", "ledgercache-test")
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type testEnvelope[T any] struct {
	Data        T      `json:"data"`
	Source      string `json:"source"`
	Stale       bool   `json:"stale"`
	RefreshedAt string `json:"refreshed_at"`
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, Options{}, false)

	if rr := do(t, s, http.MethodGet, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	rr := do(t, s, http.MethodGet, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before refresh = %d, want 503", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Kind != "not_ready" {
		t.Fatalf("kind = %q", body.Kind)
	}

	if rr := do(t, s, http.MethodPost, "/cache/refresh"); rr.Code != http.StatusOK {
		t.Fatalf("refresh = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, s, http.MethodGet, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz after refresh = %d", rr.Code)
	}
}

func TestResponseHeaders(t *testing.T) {
	s := newTestServer(t, Options{}, true)
	rr := do(t, s, http.MethodGet, "/categories")

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestCategoryEndpoints(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	rr := do(t, s, http.MethodGet, "/categories")
	if rr.Code != http.StatusOK {
		t.Fatalf("categories = %d", rr.Code)
	}
	list := decode[testEnvelope[[]categoryDTO]](t, rr)
	if list.Source != "snapshot" || list.Stale || list.RefreshedAt == "" {
		t.Fatalf("unexpected provenance: %+v", list)
	}
	if len(list.Data) != 3 || list.Data[0].Name != "Groceries" {
		t.Fatalf("unexpected categories: %+v", list.Data)
	}

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantID   string
		wantName string
	}{
		{"by name", "/categories/Rent", http.StatusOK, "cat-rent", "Rent"},
		{"by name case insensitive", "/categories/groceries", http.StatusOK, "cat-groceries", "groceries"},
		{"by id", "/categories/by-id/cat-transport", http.StatusOK, "cat-transport", "Transport"},
		{"unknown name", "/categories/Travel", http.StatusNotFound, "", ""},
		{"unknown id", "/categories/by-id/cat-nope", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, tt.target)
			if rr.Code != tt.wantCode {
				t.Fatalf("%s = %d, want %d: %s", tt.target, rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if body := decode[errorBody](t, rr); body.Kind != "unknown_reference" {
					t.Fatalf("kind = %q", body.Kind)
				}
				return
			}
			got := decode[testEnvelope[categoryDTO]](t, rr)
			if got.Data.ID != tt.wantID || got.Data.Name != tt.wantName {
				t.Fatalf("got %+v, want %s/%s", got.Data, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestPayeeAndAccountEndpoints(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	tests := []struct {
		target   string
		wantCode int
		wantID   string
		wantName string
	}{
		{"/payees/Market", http.StatusOK, "pay-market", "Market"},
		{"/payees/by-id/pay-landlord", http.StatusOK, "pay-landlord", "Landlord"},
		{"/payees/Nobody", http.StatusNotFound, "", ""},
		{"/accounts/acc-checking", http.StatusOK, "acc-checking", "Checking"},
		{"/accounts/acc-missing", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, tt.target)
			if rr.Code != tt.wantCode {
				t.Fatalf("%s = %d, want %d", tt.target, rr.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			got := decode[testEnvelope[map[string]string]](t, rr)
			if got.Data["id"] != tt.wantID || got.Data["name"] != tt.wantName {
				t.Fatalf("got %+v", got.Data)
			}
		})
	}
}

func TestTransactionsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	tests := []struct {
		name    string
		target  string
		wantIDs []string
	}{
		{"current month by default", "/transactions", []string{"t1", "t2", "t3"}},
		{"explicit month", "/transactions?month=2024-04", []string{"t4"}},
		{"explicit range", "/transactions?start=2024-04-01&end=2024-05-02", []string{"t4", "t1"}},
		{"uncategorized only", "/transactions?month=2024-05&uncategorized=1", []string{"t3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, tt.target)
			if rr.Code != http.StatusOK {
				t.Fatalf("%s = %d: %s", tt.target, rr.Code, rr.Body.String())
			}
			got := decode[testEnvelope[[]transactionDTO]](t, rr)
			if len(got.Data) != len(tt.wantIDs) {
				t.Fatalf("got %d transactions, want %d: %+v", len(got.Data), len(tt.wantIDs), got.Data)
			}
			for i, id := range tt.wantIDs {
				if got.Data[i].ID != id {
					t.Errorf("transaction %d = %s, want %s", i, got.Data[i].ID, id)
				}
			}
		})
	}

	t.Run("amount formatting", func(t *testing.T) {
		got := decode[testEnvelope[[]transactionDTO]](t, do(t, s, http.MethodGet, "/transactions?start=2024-05-02&end=2024-05-02"))
		if len(got.Data) != 1 || got.Data[0].Amount != "-120.00" || got.Data[0].AmountCents != -12000 {
			t.Fatalf("unexpected amount: %+v", got.Data)
		}
	})
}

func TestBadParameters(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	for _, target := range []string{
		"/transactions?start=2024-05-10&end=2024-05-01",
		"/transactions?start=05/01/2024",
		"/spending?month=May",
		"/budgets/cat-groceries/2024-13",
	} {
		t.Run(target, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, target)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("%s = %d, want 400", target, rr.Code)
			}
			if body := decode[errorBody](t, rr); body.Kind != "invalid_request" {
				t.Fatalf("kind = %q", body.Kind)
			}
		})
	}
}

func TestSpendingEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	rr := do(t, s, http.MethodGet, "/spending?month=2024-05")
	if rr.Code != http.StatusOK {
		t.Fatalf("spending = %d", rr.Code)
	}
	got := decode[testEnvelope[spendingDTO]](t, rr)
	if got.Data.TotalCents != 112700 || got.Data.Total != "1127.00" {
		t.Fatalf("total = %d (%s)", got.Data.TotalCents, got.Data.Total)
	}
	want := []string{"Groceries", "Rent", "Uncategorized"}
	if len(got.Data.ByCategory) != len(want) {
		t.Fatalf("by category = %+v", got.Data.ByCategory)
	}
	for i, name := range want {
		if got.Data.ByCategory[i].Name != name {
			t.Errorf("category %d = %s, want %s", i, got.Data.ByCategory[i].Name, name)
		}
	}
}

func TestBudgetEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	rr := do(t, s, http.MethodGet, "/budgets/cat-groceries/2024-05")
	if rr.Code != http.StatusOK {
		t.Fatalf("budget = %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[testEnvelope[budgetDTO]](t, rr)
	if got.Data.BudgetedCents != 50000 || got.Data.SpentCents == nil || *got.Data.SpentCents != 12000 {
		t.Fatalf("unexpected budget: %+v", got.Data)
	}
	if got.Data.Month != "2024-05" {
		t.Fatalf("month = %q", got.Data.Month)
	}

	if rr := do(t, s, http.MethodGet, "/budgets/cat-rent/2024-05"); rr.Code != http.StatusNotFound {
		t.Fatalf("budget without entry = %d, want 404", rr.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t, Options{RefreshRateLimit: 2}, true)

	rr := do(t, s, http.MethodPost, "/cache/refresh")
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rr.Code)
	}
	res := decode[refreshDTO](t, rr)
	if !res.Published || !res.Complete || res.Version != 2 || res.RunID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Counts["categories"] != 3 {
		t.Fatalf("counts = %+v", res.Counts)
	}

	rr = do(t, s, http.MethodPost, "/cache/refresh?async=1")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("async refresh = %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/cache/refresh")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third refresh = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	if rr := do(t, s, http.MethodGet, "/cache/refresh"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh = %d, want 405", rr.Code)
	}
}

func TestCacheHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, true)

	rr := do(t, s, http.MethodGet, "/cache/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}
	h := decode[cache.Health](t, rr)
	if !h.Populated || !h.Complete || h.Stale || h.Version != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestRefreshHistoryEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, Options{}, false)
		if rr := do(t, s, http.MethodGet, "/cache/refreshes"); rr.Code != http.StatusNotFound {
			t.Fatalf("history = %d, want 404", rr.Code)
		}
	})

	t.Run("limit", func(t *testing.T) {
		hist := fakeHistory{runs: []storage.RunRecord{{RunID: "r3"}, {RunID: "r2"}, {RunID: "r1"}}}
		s := newTestServer(t, Options{History: hist}, false)
		rr := do(t, s, http.MethodGet, "/cache/refreshes?limit=2")
		if rr.Code != http.StatusOK {
			t.Fatalf("history = %d", rr.Code)
		}
		got := decode[map[string][]storage.RunRecord](t, rr)
		if len(got["runs"]) != 2 || got["runs"][0].RunID != "r3" {
			t.Fatalf("runs = %+v", got["runs"])
		}
	})

	t.Run("storage error", func(t *testing.T) {
		s := newTestServer(t, Options{History: fakeHistory{err: errors.New("disk gone")}}, false)
		if rr := do(t, s, http.MethodGet, "/cache/refreshes"); rr.Code != http.StatusInternalServerError {
			t.Fatalf("history = %d, want 500", rr.Code)
		}
	})
}

func TestUpstreamFailureWithoutSnapshot(t *testing.T) {
	engine := cache.NewEngine(failingReader{}, cache.NewStore(), cache.Options{
		Now: func() time.Time { return testNow },
	})
	t.Cleanup(engine.Close)
	s := NewServer(cache.NewAccessor(engine), Options{})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	rr := do(t, s, http.MethodGet, "/categories")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("categories = %d, want 502", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Kind != "upstream_unavailable" || body.Class != "categories" {
		t.Fatalf("kind = %q, class = %q", body.Kind, body.Class)
	}

	rr = do(t, s, http.MethodPost, "/cache/refresh")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("refresh = %d, want 502", rr.Code)
	}
	if res := decode[refreshDTO](t, rr); res.Published || len(res.Failed) == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRefreshRateLimitHonorsTrustedProxies(t *testing.T) {
	s := newTestServer(t, Options{RefreshRateLimit: 1, TrustedProxies: []string{"203.0.113.0/24"}}, true)

	post := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/cache/refresh", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		s.Handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := post("198.51.100.7"); code != http.StatusOK {
		t.Fatalf("first client = %d", code)
	}
	if code := post("198.51.100.8"); code != http.StatusOK {
		t.Fatalf("second client = %d, want its own budget", code)
	}
	if code := post("198.51.100.7"); code != http.StatusTooManyRequests {
		t.Fatalf("first client again = %d, want 429", code)
	}
}
