package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/schema"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	cfg := config.Default()
	// Point at an absent roster so the env-default fallback applies.
	cfg.AccountsPath = filepath.Join(t.TempDir(), "accounts.yaml")
	cfg.JournalDSN = ""
	cfg.OTLPEndpoint = ""
	return cfg
}

func TestNewWiresOffline(t *testing.T) {
	e, err := New(context.Background(), testSettings(t))
	require.NoError(t, err)
	require.Len(t, e.accounts, 1, "missing roster must fall back to the default account")
	require.NoError(t, e.close())
}

func TestDispatchSurfacesSessionFailures(t *testing.T) {
	cfg := testSettings(t)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.close() }()

	// The default account has no private key, so session creation must fail
	// and the outcome must carry the error instead of panicking or hanging.
	signal := schema.NewSignal(schema.DirectionLong, "ETH", 2)
	outcomes := e.Dispatch(context.Background(), signal)
	require.Len(t, outcomes, 1)
	require.Error(t, outcomes[0].Err)
}

func TestFacadeReadsOffline(t *testing.T) {
	e, err := New(context.Background(), testSettings(t))
	require.NoError(t, err)
	defer func() { _ = e.close() }()

	require.NotNil(t, e.Health())
	require.Empty(t, e.AllPositions(), "nothing tracked before Run initializes")

	// Reload with the roster file still absent keeps the fallback account.
	require.NoError(t, e.ReloadConfiguration())
	require.Len(t, e.accounts, 1)
}

func TestEmergencyStopEngagesGate(t *testing.T) {
	e, err := New(context.Background(), testSettings(t))
	require.NoError(t, err)
	defer func() { _ = e.close() }()

	e.EmergencyStop(context.Background(), "manual halt")
	require.True(t, e.gate.Snapshot().KillSwitch)
}
