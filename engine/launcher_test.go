package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/RENCI-NRIG/impact-smc/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLauncher(t *testing.T, body string, mutate ...func(*engine.Config)) (*engine.Launcher, string) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Command = testutil.WriteScript(t, "engine.sh", body)
	cfg.WorkDir = t.TempDir()
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := engine.NewLauncher(cfg, nil)
	require.NoError(t, err)
	return l, cfg.WorkDir
}

func coordinatorRun(count protocol.Count) engine.Run {
	return engine.Run{
		Session:         protocol.NewSessionID(),
		Count:           count,
		CoordinatorHost: "10.0.0.1",
		Role:            protocol.CoordinatorRole,
	}
}

func TestCoordinate_CollectsTrimmedAggregate(t *testing.T) {
	l, workDir := newLauncher(t, `printf '  42 \n\n' > "$SMC_RESULT_FILE"`)

	result, err := l.Coordinate(context.Background(), coordinatorRun(10))
	require.NoError(t, err)

	aggregate, err := result.Collect()
	require.NoError(t, err)
	require.Equal(t, protocol.Aggregate("42"), aggregate)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Empty(t, entries, "run directory is removed after collection")
}

func TestCoordinate_PassesArgumentsAndEnvironment(t *testing.T) {
	l, _ := newLauncher(t, `
[ "$1" = "--verbose" ] || exit 11
[ "$2" = "10" ] || exit 12
[ "$3" = "10.0.0.1" ] || exit 13
[ "$4" = "0" ] || exit 14
[ "$SMC_ROLE" = "0" ] || exit 15
[ "$EXTRA" = "yes" ] || exit 16
echo "$SMC_SESSION_ID" > "$SMC_RESULT_FILE"
`, func(c *engine.Config) {
		c.Args = []string{"--verbose"}
		c.Env = map[string]string{"EXTRA": "yes"}
	})

	run := coordinatorRun(10)
	result, err := l.Coordinate(context.Background(), run)
	require.NoError(t, err)

	aggregate, err := result.Collect()
	require.NoError(t, err)
	require.Equal(t, run.Session.String(), aggregate.String())
}

func TestCoordinate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		timeout time.Duration
		want    error
	}{
		{"non-zero exit", `exit 3`, 0, protocol.ErrEngineFailure},
		{"timeout", `exec sleep 10`, 200 * time.Millisecond, protocol.ErrEngineTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, workDir := newLauncher(t, tc.body, func(c *engine.Config) {
				if tc.timeout > 0 {
					c.Timeout = tc.timeout
				}
			})

			start := time.Now()
			result, err := l.Coordinate(context.Background(), coordinatorRun(1))
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, result)
			require.Less(t, time.Since(start), 5*time.Second)

			entries, err := os.ReadDir(workDir)
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestCoordinate_MissingCommand(t *testing.T) {
	l, err := engine.NewLauncher(engine.Config{
		Command: filepath.Join(t.TempDir(), "no-such-engine"),
		WorkDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)

	_, err = l.Coordinate(context.Background(), coordinatorRun(1))
	require.ErrorIs(t, err, protocol.ErrEngineLaunchFailure)

	_, err = l.Launch(engine.Run{Session: protocol.NewSessionID(), Role: protocol.FirstPeerRole})
	require.ErrorIs(t, err, protocol.ErrEngineLaunchFailure)
}

func TestCoordinate_RejectsPeerRole(t *testing.T) {
	l, _ := newLauncher(t, `exit 0`)

	run := coordinatorRun(1)
	run.Role = protocol.SecondPeerRole
	_, err := l.Coordinate(context.Background(), run)
	require.ErrorIs(t, err, protocol.ErrInvalidRole)

	_, err = l.Launch(coordinatorRun(1))
	require.ErrorIs(t, err, protocol.ErrInvalidRole)
}

func TestCollect_ResultUnavailable(t *testing.T) {
	cases := map[string]string{
		"no file":    `exit 0`,
		"empty file": `printf '\n  \n' > "$SMC_RESULT_FILE"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			l, _ := newLauncher(t, body)

			result, err := l.Coordinate(context.Background(), coordinatorRun(1))
			require.NoError(t, err)

			_, err = result.Collect()
			require.ErrorIs(t, err, protocol.ErrResultUnavailable)
		})
	}
}

func TestCoordinate_ConcurrentRunsAreIsolated(t *testing.T) {
	l, _ := newLauncher(t, `sleep 0.1
echo "$1" > "$SMC_RESULT_FILE"`)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := l.Coordinate(context.Background(), coordinatorRun(protocol.Count(n)))
			if !assert.NoError(t, err) {
				return
			}
			aggregate, err := result.Collect()
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(n), aggregate.String())
		}(i)
	}
	wg.Wait()
}

func TestCoordinate_LegacyResultPathIsSerialized(t *testing.T) {
	legacy := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(legacy, []byte("stale\n"), 0o644))

	l, _ := newLauncher(t, `sleep 0.05
echo "$1" > "$LEGACY_OUT"`, func(c *engine.Config) {
		c.LegacyResultPath = legacy
		c.Env = map[string]string{"LEGACY_OUT": legacy}
	})

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := l.Coordinate(context.Background(), coordinatorRun(protocol.Count(n)))
			if !assert.NoError(t, err) {
				return
			}
			aggregate, err := result.Collect()
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(n), aggregate.String())
		}(i)
	}
	wg.Wait()
}

func TestLaunch_IsSupervised(t *testing.T) {
	l, _ := newLauncher(t, `[ "$3" = "1" ] || exit 4
sleep 0.1`)

	task, err := l.Launch(engine.Run{
		Session:         protocol.NewSessionID(),
		Count:           7,
		CoordinatorHost: "10.0.0.1",
		Role:            protocol.FirstPeerRole,
	})
	require.NoError(t, err)
	require.NoError(t, task.Err(), "no outcome before completion")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))

	task, err = l.Launch(engine.Run{Session: protocol.NewSessionID(), Role: protocol.SecondPeerRole})
	require.NoError(t, err)
	<-task.Done()
	require.ErrorIs(t, task.Err(), protocol.ErrEngineFailure)
}

func TestLaunch_OutlivesCaller(t *testing.T) {
	l, _ := newLauncher(t, `sleep 0.2`)

	task, err := l.Launch(engine.Run{Session: protocol.NewSessionID(), Role: protocol.FirstPeerRole})
	require.NoError(t, err)

	select {
	case <-task.Done():
		t.Fatal("task finished before the engine did")
	case <-time.After(50 * time.Millisecond):
	}
	<-task.Done()
	require.NoError(t, task.Err())
}

// backgroundChild writes the result and exits 0 while a child it started keeps
// stdout open.
const backgroundChild = `sleep 5 &
echo 20 > "$SMC_RESULT_FILE"
exit 0`

func TestCoordinate_BackgroundChildAfterSuccess(t *testing.T) {
	l, _ := newLauncher(t, backgroundChild)

	start := time.Now()
	result, err := l.Coordinate(context.Background(), coordinatorRun(10))
	require.NoError(t, err)

	aggregate, err := result.Collect()
	require.NoError(t, err)
	require.Equal(t, protocol.Aggregate("20"), aggregate)
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestLaunch_BackgroundChildAfterSuccess(t *testing.T) {
	l, _ := newLauncher(t, backgroundChild)

	task, err := l.Launch(engine.Run{Session: protocol.NewSessionID(), Role: protocol.FirstPeerRole})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
}

func TestCoordinate_TimeoutKillsWrapperScript(t *testing.T) {
	l, _ := newLauncher(t, `sleep 10
echo 1 > "$SMC_RESULT_FILE"`, func(c *engine.Config) {
		c.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	_, err := l.Coordinate(context.Background(), coordinatorRun(1))
	require.ErrorIs(t, err, protocol.ErrEngineTimeout)
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestPrepare(t *testing.T) {
	l, _ := newLauncher(t, `exit 0`)
	_, err := l.Prepare(3)
	require.ErrorIs(t, err, engine.ErrPrepareNotConfigured)

	out := t.TempDir()
	l, _ = newLauncher(t, `exit 0`, func(c *engine.Config) {
		c.PrepareCommand = testutil.WriteScript(t, "prepare.sh", `echo "$2" > "$1/parties"`)
		c.PrepareArgs = []string{out}
	})

	task, err := l.Prepare(3)
	require.NoError(t, err)
	<-task.Done()
	require.NoError(t, task.Err())

	data, err := os.ReadFile(filepath.Join(out, "parties"))
	require.NoError(t, err)
	require.Equal(t, "3\n", string(data))
}

func TestTaskGroup(t *testing.T) {
	l, _ := newLauncher(t, `exec sleep 10`)

	var group engine.TaskGroup
	task, err := l.Launch(engine.Run{Session: protocol.NewSessionID(), Role: protocol.FirstPeerRole})
	require.NoError(t, err)
	group.Add(task)
	require.Equal(t, 1, group.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, group.Wait(ctx), context.DeadlineExceeded)

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not finish")
	}
	require.Error(t, task.Err())
	require.Eventually(t, func() bool { return group.Len() == 0 }, time.Second, 10*time.Millisecond)
}
