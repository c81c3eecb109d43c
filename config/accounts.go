package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/observability"
)

// AccountConfig describes one venue sub-account the engine trades on behalf of.
type AccountConfig struct {
	AccountIndex   int64    `yaml:"account_index"`
	APIKeyIndex    int      `yaml:"api_key_index"`
	PrivateKey     string   `yaml:"api_key_private_key"`
	Name           string   `yaml:"name"`
	Active         bool     `yaml:"active"`
	AllowedSymbols []string `yaml:"allowed_symbols"`
}

// Allows reports whether the account may trade the given symbol. An empty
// allow-list permits every symbol.
func (a AccountConfig) Allows(symbol string) bool {
	if len(a.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range a.AllowedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

type accountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// LoadAccounts reads the account roster from path. Invalid entries are
// skipped with a warning. When the file is absent, unparseable, or leaves no
// valid entries, the fallback account is returned instead, so a
// single-account deployment needs only environment variables.
func LoadAccounts(path string, fallback AccountConfig) ([]AccountConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []AccountConfig{fallback}, nil
		}
		return nil, errs.New("config", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("read accounts file %s", path)),
			errs.WithCause(err))
	}

	var file accountsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return []AccountConfig{fallback}, nil
	}
	if len(file.Accounts) == 0 {
		return []AccountConfig{fallback}, nil
	}

	seen := make(map[int64]struct{}, len(file.Accounts))
	accounts := make([]AccountConfig, 0, len(file.Accounts))
	for i, acct := range file.Accounts {
		if reason := validateEntry(acct, seen); reason != "" {
			observability.Log().Warn("skipping invalid account entry",
				observability.F("entry", i),
				observability.F("account", acct.AccountIndex),
				observability.F("reason", reason))
			continue
		}
		seen[acct.AccountIndex] = struct{}{}
		if acct.Name == "" {
			acct.Name = fmt.Sprintf("Account %d", acct.AccountIndex)
		}
		for j, s := range acct.AllowedSymbols {
			acct.AllowedSymbols[j] = strings.ToUpper(strings.TrimSpace(s))
		}
		accounts = append(accounts, acct)
	}
	if len(accounts) == 0 {
		observability.Log().Warn("no valid account entries, using fallback account",
			observability.F("path", path))
		return []AccountConfig{fallback}, nil
	}
	return accounts, nil
}

func validateEntry(acct AccountConfig, seen map[int64]struct{}) string {
	if acct.AccountIndex < 0 {
		return "negative account_index"
	}
	if acct.PrivateKey == "" {
		return "missing api_key_private_key"
	}
	if _, dup := seen[acct.AccountIndex]; dup {
		return "duplicate account_index"
	}
	return ""
}

// ActiveAccounts filters the roster down to entries marked active.
func ActiveAccounts(accounts []AccountConfig) []AccountConfig {
	active := make([]AccountConfig, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Active {
			active = append(active, acct)
		}
	}
	return active
}
