package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/RENCI-NRIG/impact-smc/metrics"
	"github.com/RENCI-NRIG/impact-smc/protocol"
)

// Environment passed to every engine run.
const (
	SessionEnv    = "SMC_SESSION_ID"
	ResultFileEnv = "SMC_RESULT_FILE"
	RoleEnv       = "SMC_ROLE"
)

const resultFileName = "result"

// Config configures the engine and preparation processes.
type Config struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	// WorkDir is the parent of the per-run directories. Defaults to os.TempDir().
	WorkDir string        `yaml:"work_dir" toml:"work_dir"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// Env is added to the environment of engine and preparation runs.
	Env map[string]string `yaml:"env" toml:"env"`
	// LegacyResultPath is read instead of the per-run result file when set.
	LegacyResultPath string `yaml:"legacy_result_path" toml:"legacy_result_path"`

	// PrepareCommand generates shared randomness ahead of sessions. It is
	// invoked with PrepareArgs followed by the party count.
	PrepareCommand string        `yaml:"prepare_command" toml:"prepare_command"`
	PrepareArgs    []string      `yaml:"prepare_args" toml:"prepare_args"`
	PrepareTimeout time.Duration `yaml:"prepare_timeout" toml:"prepare_timeout"`
}

// DefaultConfig returns the engine defaults. Command must still be set.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Minute,
		PrepareTimeout: time.Hour,
	}
}

// Run describes one engine invocation.
type Run struct {
	Session         protocol.SessionID
	Count           protocol.Count
	CoordinatorHost string
	Role            protocol.PartyRole
}

func (r Run) dirName() string {
	return r.Session.String() + "-" + r.Role.String()
}

// ErrPrepareNotConfigured is returned by Prepare when no command is set.
var ErrPrepareNotConfigured = errors.New("prepare command not configured")

// Launcher starts engine processes.
type Launcher struct {
	config Config
	log    *slog.Logger

	legacyMu sync.Mutex
}

// NewLauncher validates config and creates a launcher.
func NewLauncher(config Config, log *slog.Logger) (*Launcher, error) {
	if config.Command == "" {
		return nil, errors.New("engine command is required")
	}
	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}
	if err := os.MkdirAll(config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating engine work dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{config: config, log: log}, nil
}

// Coordinate runs the engine in coordinator role and blocks until it exits.
// On success the returned Result must be collected or closed.
func (l *Launcher) Coordinate(ctx context.Context, run Run) (*Result, error) {
	if run.Role != protocol.CoordinatorRole {
		return nil, fmt.Errorf("%w: coordinate called for role %d", protocol.ErrInvalidRole, run.Role)
	}

	dir, err := l.prepareDir(run)
	if err != nil {
		return nil, err
	}

	result := &Result{
		path:   filepath.Join(dir, resultFileName),
		dir:    dir,
		unlock: func() {},
	}
	if l.config.LegacyResultPath != "" {
		l.legacyMu.Lock()
		result.path = l.config.LegacyResultPath
		result.unlock = l.legacyMu.Unlock
		if err := os.Remove(result.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Close()
			return nil, fmt.Errorf("%w: clearing stale result: %v", protocol.ErrEngineLaunchFailure, err)
		}
	}

	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	if err := l.execute(ctx, run, dir, result.path); err != nil {
		result.Close()
		return nil, err
	}
	return result, nil
}

// Launch starts the engine in peer role and returns without waiting.
// The process is bounded by the configured timeout, not by any request context.
func (l *Launcher) Launch(run Run) (*Task, error) {
	if !run.Role.IsPeer() {
		return nil, fmt.Errorf("%w: launch called for role %d", protocol.ErrInvalidRole, run.Role)
	}

	dir, err := l.prepareDir(run)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if l.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
	}

	cmd, output := l.command(ctx, l.config.Command, l.engineArgs(run), dir, run, filepath.Join(dir, resultFileName))
	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(dir)
		metrics.EngineRuns.WithLabelValues(run.Role.String(), protocol.ErrorKind(protocol.ErrEngineLaunchFailure)).Inc()
		return nil, fmt.Errorf("%w: %v", protocol.ErrEngineLaunchFailure, err)
	}

	log := l.log.With("session", run.Session, "role", run.Role)
	return startTask(cancel, func() error {
		defer os.RemoveAll(dir)

		err := wait(ctx, cmd, log)
		metrics.EngineRuns.WithLabelValues(run.Role.String(), protocol.ErrorKind(err)).Inc()
		if err != nil {
			log.Warn("engine exited with error", "err", err, "output", output.String())
		} else {
			log.Debug("engine exited", "output", output.String())
		}
		return err
	}), nil
}

// Prepare starts the shared randomness preparation command in the background.
func (l *Launcher) Prepare(parties int) (*Task, error) {
	if l.config.PrepareCommand == "" {
		return nil, ErrPrepareNotConfigured
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if l.config.PrepareTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.config.PrepareTimeout)
	}

	args := append(append([]string(nil), l.config.PrepareArgs...), strconv.Itoa(parties))
	cmd, output := l.command(ctx, l.config.PrepareCommand, args, l.config.WorkDir, Run{}, "")
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: prepare: %v", protocol.ErrEngineLaunchFailure, err)
	}

	return startTask(cancel, func() error {
		err := wait(ctx, cmd, l.log)
		if err != nil {
			l.log.Warn("prepare command failed", "err", err, "output", output.String())
		} else {
			l.log.Info("prepare command finished", "parties", parties)
		}
		return err
	}), nil
}

func (l *Launcher) prepareDir(run Run) (string, error) {
	dir := filepath.Join(l.config.WorkDir, run.dirName())
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("%w: clearing run dir: %v", protocol.ErrEngineLaunchFailure, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: creating run dir: %v", protocol.ErrEngineLaunchFailure, err)
	}
	return dir, nil
}

func (l *Launcher) engineArgs(run Run) []string {
	return append(append([]string(nil), l.config.Args...),
		run.Count.String(), run.CoordinatorHost, run.Role.String())
}

func (l *Launcher) command(ctx context.Context, name string, args []string, dir string, run Run, resultPath string) (*exec.Cmd, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	env := os.Environ()
	if run.Session != "" {
		env = append(env,
			SessionEnv+"="+run.Session.String(),
			RoleEnv+"="+run.Role.String(),
			ResultFileEnv+"="+resultPath,
		)
	}
	keys := make([]string, 0, len(l.config.Env))
	for k := range l.config.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+l.config.Env[k])
	}
	cmd.Env = env

	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output
	return cmd, output
}

func (l *Launcher) execute(ctx context.Context, run Run, dir, resultPath string) error {
	log := l.log.With("session", run.Session, "role", run.Role)

	cmd, output := l.command(ctx, l.config.Command, l.engineArgs(run), dir, run, resultPath)
	if err := cmd.Start(); err != nil {
		metrics.EngineRuns.WithLabelValues(run.Role.String(), protocol.ErrorKind(protocol.ErrEngineLaunchFailure)).Inc()
		return fmt.Errorf("%w: %v", protocol.ErrEngineLaunchFailure, err)
	}
	log.Debug("engine started", "pid", cmd.Process.Pid)

	err := wait(ctx, cmd, log)
	metrics.EngineRuns.WithLabelValues(run.Role.String(), protocol.ErrorKind(err)).Inc()
	if err != nil {
		log.Warn("engine exited with error", "err", err, "output", output.String())
		return err
	}
	log.Debug("engine exited", "output", output.String())
	return nil
}

// wait waits for cmd and classifies the outcome. A process that exited
// successfully counts as a success even when a child it left behind kept the
// output pipes open past WaitDelay.
func wait(ctx context.Context, cmd *exec.Cmd, log *slog.Logger) error {
	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		log.Warn("process exited but its output stayed open", "pid", cmd.ProcessState.Pid())
		return nil
	}
	return classify(ctx, err)
}

// classify maps the outcome of cmd.Wait to the protocol error kinds.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", protocol.ErrEngineTimeout, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: cancelled: %v", protocol.ErrEngineFailure, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit status %d", protocol.ErrEngineFailure, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %v", protocol.ErrEngineFailure, err)
}
