package testutil

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/stretchr/testify/require"
)

// RendezvousEnv names the directory shared by FakeEngine processes.
const RendezvousEnv = "RENDEZVOUS_DIR"

const fakeEngineScript = `
count="$1"
role="$3"
dir="${RENDEZVOUS_DIR:?}/${SMC_SESSION_ID:?}"
mkdir -p "$dir"
echo "$count" > "$dir/party-$role.tmp" && mv "$dir/party-$role.tmp" "$dir/party-$role"
if [ "$role" != "0" ]; then
	exit 0
fi
i=0
while [ ! -f "$dir/party-1" ] || [ ! -f "$dir/party-2" ]; do
	i=$((i + 1))
	if [ "$i" -gt 200 ]; then
		echo "peers never joined" >&2
		exit 3
	fi
	sleep 0.05
done
total=$(( $(cat "$dir/party-0") + $(cat "$dir/party-1") + $(cat "$dir/party-2") ))
echo "$total" > "${SMC_RESULT_FILE:?}"
`

// RequireShell skips the test if /bin/sh scripts cannot be executed.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// WriteScript writes an executable /bin/sh script and returns its path.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	RequireShell(t)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// FakeEngine returns the path of a summing fake SMC engine.
func FakeEngine(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "engine.sh", fakeEngineScript)
}

// FakeEngineEnv returns the engine environment for a rendezvous directory.
func FakeEngineEnv(rendezvousDir string) map[string]string {
	return map[string]string{RendezvousEnv: rendezvousDir}
}

// StoreOption configures NewTestStore.
type StoreOption func(*storeFixture)

type storeFixture struct {
	seeds map[protocol.Criterion]protocol.Count
}

// WithCount seeds a criterion with a count.
func WithCount(criterion string, count int64) StoreOption {
	return func(f *storeFixture) {
		f.seeds[protocol.Criterion(criterion)] = protocol.Count(count)
	}
}

// NewTestStore opens a migrated SQLite store in a temporary directory.
// The database is closed when the test ends.
func NewTestStore(t *testing.T, options ...StoreOption) *sql.DB {
	t.Helper()

	fixture := &storeFixture{seeds: make(map[protocol.Criterion]protocol.Count)}
	for _, opt := range options {
		opt(fixture)
	}

	db, err := counts.OpenStore(counts.StoreConfig{
		Driver:  counts.DriverSQLite,
		DSN:     filepath.Join(t.TempDir(), "candidates.db"),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for criterion, count := range fixture.seeds {
		require.NoError(t, counts.SeedCount(context.Background(), db, counts.DriverSQLite, criterion, count))
	}
	return db
}
