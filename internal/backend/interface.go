package backend

import (
	"context"
	"time"

	"ledgercache/internal/ledger"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the ledger reader and optional cleanup function
type BackendResult struct {
	Reader  ledger.Reader
	Cleanup CleanupFunc
}

// Factory creates ledger readers based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Memory specific
	MemoryLedgerFile string

	// Actual Budget specific
	ActualAPIURL             string
	ActualAPIKey             string
	ActualBudgetID           string
	ActualEncryptionPassword string
	ActualMaxConcurrency     int
	ActualTimeout            time.Duration

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// BackendType represents the type of ledger backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	ActualBackend BackendType = "actual"
	SheetsBackend BackendType = "sheets"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, ActualBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
