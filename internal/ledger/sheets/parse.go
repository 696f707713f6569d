package sheets

import (
	"fmt"
	"strings"

	"ledgercache/internal/core"
)

// parseNamed reads ID and Name columns. Rows with an empty ID are skipped.
func parseNamed(values [][]interface{}) ([][2]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	cols, err := columns(values[0], "ID", "Name")
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, raw := range values[1:] {
		row := toStrings(raw)
		id := safeGet(row, cols[0])
		if id == "" {
			continue
		}
		out = append(out, [2]string{id, safeGet(row, cols[1])})
	}
	return out, nil
}

func parseTransactions(values [][]interface{}) ([]core.Transaction, error) {
	if len(values) == 0 {
		return nil, nil
	}
	cols, err := columns(values[0], "ID", "Date", "Amount", "Account")
	if err != nil {
		return nil, err
	}
	headers := toStrings(values[0])
	colCategory := indexOf(headers, "Category")
	colPayee := indexOf(headers, "Payee")
	colNotes := indexOf(headers, "Notes")

	var out []core.Transaction
	for i, raw := range values[1:] {
		row := toStrings(raw)
		if isBlank(row) {
			continue
		}
		line := i + 2
		date, err := core.ParseDate(safeGet(row, cols[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		amount, err := parseAmount(safeGet(row, cols[2]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		out = append(out, core.Transaction{
			ID:         safeGet(row, cols[0]),
			Date:       date,
			Amount:     amount,
			AccountID:  safeGet(row, cols[3]),
			CategoryID: safeGet(row, colCategory),
			PayeeID:    safeGet(row, colPayee),
			Notes:      safeGet(row, colNotes),
		})
	}
	return out, nil
}

func parseBudgets(values [][]interface{}) ([]core.BudgetEntry, error) {
	if len(values) == 0 {
		return nil, nil
	}
	cols, err := columns(values[0], "Category", "Month", "Budgeted")
	if err != nil {
		return nil, err
	}
	colSpent := indexOf(toStrings(values[0]), "Spent")

	var out []core.BudgetEntry
	for i, raw := range values[1:] {
		row := toStrings(raw)
		if isBlank(row) {
			continue
		}
		line := i + 2
		month, err := core.ParseMonth(safeGet(row, cols[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		budgeted, err := parseAmount(safeGet(row, cols[2]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		e := core.BudgetEntry{CategoryID: safeGet(row, cols[0]), Month: month, Budgeted: budgeted}
		if s := safeGet(row, colSpent); s != "" {
			spent, err := parseAmount(s)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", line, err)
			}
			e.Spent = spent.Abs()
			e.HasSpent = true
		}
		out = append(out, e)
	}
	return out, nil
}

// parseAmount accepts plain decimals with an optional currency symbol.
func parseAmount(s string) (core.Money, error) {
	s = strings.NewReplacer("€", "", "$", "", "£", "", " ", "").Replace(s)
	if s == "" {
		return core.Money{}, nil
	}
	return core.ParseAmount(s)
}

func columns(header []interface{}, names ...string) ([]int, error) {
	headers := toStrings(header)
	idx := make([]int, len(names))
	var missing []string
	for i, n := range names {
		idx[i] = indexOf(headers, n)
		if idx[i] == -1 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unexpected header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}
	return idx, nil
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func safeGet(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
