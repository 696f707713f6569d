package backend

import (
	"fmt"

	"ledgercache/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.LedgerBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.LedgerBackend)
	}

	return Config{
		Type: backendType,

		MemoryLedgerFile: appConfig.MemoryLedgerFile,

		ActualAPIURL:             appConfig.ActualAPIURL,
		ActualAPIKey:             appConfig.ActualAPIKey,
		ActualBudgetID:           appConfig.ActualBudgetID,
		ActualEncryptionPassword: appConfig.ActualEncryptionPassword,
		ActualMaxConcurrency:     appConfig.ActualMaxConcurrency,
		ActualTimeout:            appConfig.ActualTimeout,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case ActualBackend:
		if c.ActualAPIURL == "" {
			return fmt.Errorf("Actual API URL is required for actual backend")
		}
		if c.ActualAPIKey == "" {
			return fmt.Errorf("Actual API key is required for actual backend")
		}
		if c.ActualBudgetID == "" {
			return fmt.Errorf("Actual budget ID is required for actual backend")
		}

	case SheetsBackend:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
		if c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
			return fmt.Errorf("either GoogleServiceAccountFile or GoogleServiceAccountJSON must be provided for sheets backend")
		}

	case MemoryBackend:
		// An empty or missing fixture file selects the built-in defaults.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, ActualBackend, SheetsBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
