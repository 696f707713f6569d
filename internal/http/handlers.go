package http

import (
	"net/http"

	"ledgercache/internal/core"
)

func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.accessor.CacheHealth(s.now()))
}

// handleRefresh runs a refresh pass. With ?async=1 the pass is only
// scheduled and the call returns 202 immediately.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if ParseBool(r.URL.Query(), "async") {
		started := s.accessor.TriggerRefresh()
		writeJSON(w, r, http.StatusAccepted, map[string]bool{"started": started})
		return
	}

	res := s.accessor.ForceRefresh(r.Context())
	status := http.StatusOK
	if !res.Published {
		status = http.StatusBadGateway
	}
	writeJSON(w, r, status, toRefresh(res))
}

func (s *Server) handleRefreshHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	runs, err := s.history.List(r.Context(), ParseLimit(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	ans, err := s.accessor.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats := make([]categoryDTO, len(ans.Value))
	for i, c := range ans.Value {
		cats[i] = categoryDTO{ID: c.ID, Name: c.Name}
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, cats))
}

func (s *Server) handleCategoryByName(w http.ResponseWriter, r *http.Request) {
	name := sanitizeInput(r.PathValue("name"))
	ans, err := s.accessor.CategoryIDByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, categoryDTO{ID: ans.Value, Name: name}))
}

func (s *Server) handleCategoryByID(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	ans, err := s.accessor.CategoryNameByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, categoryDTO{ID: id, Name: ans.Value}))
}

func (s *Server) handlePayeeByName(w http.ResponseWriter, r *http.Request) {
	name := sanitizeInput(r.PathValue("name"))
	ans, err := s.accessor.PayeeIDByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, map[string]string{"id": ans.Value, "name": name}))
}

func (s *Server) handlePayeeByID(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	ans, err := s.accessor.PayeeNameByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, map[string]string{"id": id, "name": ans.Value}))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	ans, err := s.accessor.AccountNameByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, map[string]string{"id": id, "name": ans.Value}))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := ParseRangeParams(q, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	fetch := s.accessor.TransactionsInRange
	if ParseBool(q, "uncategorized") {
		fetch = s.accessor.UncategorizedTransactions
	}
	ans, err := fetch(r.Context(), rng.Start, rng.End)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, toTransactions(ans.Value)))
}

func (s *Server) handleSpending(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseRangeParams(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := s.accessor.SpendingByCategory(r.Context(), rng.Start, rng.End)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, toSpending(ans.Value)))
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := s.accessor.BudgetFor(r.Context(), sanitizeInput(r.PathValue("categoryID")), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, answerEnvelope(ans, toBudget(ans.Value)))
}
