package backend

import (
	"context"
	"fmt"

	"ledgercache/internal/ledger/actual"
	"ledgercache/internal/ledger/memory"
	"ledgercache/internal/ledger/sheets"
	"ledgercache/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryBackend:
		return f.createMemoryBackend(config)
	case ActualBackend:
		return f.createActualBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store, err := memory.NewFromFile(config.MemoryLedgerFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory ledger: %w", err)
	}

	f.logger.Info("Initialized memory backend",
		"fixture", config.MemoryLedgerFile,
		"summary", store.Summary())

	return &BackendResult{Reader: store}, nil
}

func (f *DefaultFactory) createActualBackend(config Config) (*BackendResult, error) {
	client, err := actual.New(actual.Config{
		BaseURL:            config.ActualAPIURL,
		APIKey:             config.ActualAPIKey,
		BudgetID:           config.ActualBudgetID,
		EncryptionPassword: config.ActualEncryptionPassword,
		Timeout:            config.ActualTimeout,
		MaxConcurrency:     config.ActualMaxConcurrency,
		Logger:             f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Actual client: %w", err)
	}

	f.logger.Info("Initialized Actual backend",
		"base_url", config.ActualAPIURL,
		"budget_id", config.ActualBudgetID)

	return &BackendResult{Reader: client}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		Logger:          f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", config.GoogleSpreadsheetID)

	return &BackendResult{Reader: client}, nil
}
