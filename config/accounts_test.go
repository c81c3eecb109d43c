package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAccountsFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write accounts file: %v", err)
	}
	return path
}

func TestLoadAccountsMissingFileFallsBack(t *testing.T) {
	fallback := AccountConfig{AccountIndex: 7, PrivateKey: "abc", Active: true}
	accounts, err := LoadAccounts(filepath.Join(t.TempDir(), "nope.yaml"), fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountIndex != 7 {
		t.Fatalf("expected fallback account, got %+v", accounts)
	}
}

func TestLoadAccountsMalformedFallsBack(t *testing.T) {
	path := writeAccountsFile(t, "accounts: {not: [valid")
	fallback := AccountConfig{AccountIndex: 3, PrivateKey: "abc", Active: true}
	accounts, err := LoadAccounts(path, fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountIndex != 3 {
		t.Fatalf("expected fallback account, got %+v", accounts)
	}
}

func TestLoadAccountsRoster(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - account_index: 10
    api_key_index: 1
    api_key_private_key: key-a
    name: Primary
    active: true
    allowed_symbols: [eth, btc]
  - account_index: 11
    api_key_index: 2
    api_key_private_key: key-b
    active: false
`)
	accounts, err := LoadAccounts(path, AccountConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if got := accounts[0].AllowedSymbols; got[0] != "ETH" || got[1] != "BTC" {
		t.Fatalf("expected upper-cased symbols, got %v", got)
	}
	if accounts[1].Name != "Account 11" {
		t.Fatalf("expected generated name, got %q", accounts[1].Name)
	}
	active := ActiveAccounts(accounts)
	if len(active) != 1 || active[0].AccountIndex != 10 {
		t.Fatalf("expected only account 10 active, got %+v", active)
	}
}

func TestLoadAccountsSkipsInvalidEntries(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - account_index: 5
    api_key_private_key: key-a
    active: true
  - account_index: 6
    active: true
  - account_index: 5
    api_key_private_key: key-b
    active: true
  - account_index: -1
    api_key_private_key: key-c
    active: true
`)
	accounts, err := LoadAccounts(path, AccountConfig{AccountIndex: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountIndex != 5 || accounts[0].PrivateKey != "key-a" {
		t.Fatalf("expected only the first valid entry to survive, got %+v", accounts)
	}
}

func TestLoadAccountsAllInvalidFallsBack(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - account_index: 5
    active: true
`)
	fallback := AccountConfig{AccountIndex: 9, PrivateKey: "env-key", Active: true}
	accounts, err := LoadAccounts(path, fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountIndex != 9 {
		t.Fatalf("expected fallback when nothing valid remains, got %+v", accounts)
	}
}

func TestAccountAllows(t *testing.T) {
	open := AccountConfig{}
	if !open.Allows("ETH") {
		t.Fatal("empty allow-list should permit every symbol")
	}
	limited := AccountConfig{AllowedSymbols: []string{"ETH", "SOL"}}
	if !limited.Allows("eth") {
		t.Fatal("allow-list match should be case-insensitive")
	}
	if limited.Allows("BTC") {
		t.Fatal("BTC should be excluded")
	}
}
