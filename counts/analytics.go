package counts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/RENCI-NRIG/impact-smc/protocol"
)

// AnalyticsOutputEnv names the environment variable carrying the per-call
// output path to the analytics command.
const AnalyticsOutputEnv = "ANALYTICS_OUTPUT_FILE"

// providerWaitDelay bounds how long output pipes are drained after the
// provider is killed or exits. Helpers left behind by a wrapper script can
// otherwise hold them open indefinitely.
const providerWaitDelay = time.Second

// AnalyticsConfig configures the external analytics provider.
type AnalyticsConfig struct {
	// Command is executed directly, with Args followed by the criterion.
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	// WorkDir holds the per-call output directories. Defaults to os.TempDir().
	WorkDir string `yaml:"work_dir" toml:"work_dir"`
	// LegacyOutputPath is read instead of the per-call file when set, for
	// providers that always write to a fixed location. Calls are then
	// serialized.
	LegacyOutputPath string `yaml:"legacy_output_path" toml:"legacy_output_path"`
}

// analyticsOutput is the document written by the provider.
type analyticsOutput struct {
	ReturnValue *struct {
		Size *json.Number `json:"size"`
	} `json:"return value"`
}

// AnalyticsResolver resolves counts through the external analytics provider.
type AnalyticsResolver struct {
	config AnalyticsConfig
	log    *slog.Logger

	legacyMu sync.Mutex
}

// NewAnalyticsResolver validates config and creates the resolver.
func NewAnalyticsResolver(config AnalyticsConfig, log *slog.Logger) (*AnalyticsResolver, error) {
	if config.Command == "" {
		return nil, errors.New("analytics mode requires a command")
	}
	if log == nil {
		log = slog.Default()
	}
	return &AnalyticsResolver{config: config, log: log}, nil
}

// Resolve runs the provider for criterion and parses its output.
func (a *AnalyticsResolver) Resolve(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error) {
	dir, err := os.MkdirTemp(a.config.WorkDir, "analytics-")
	if err != nil {
		return 0, fmt.Errorf("%w: creating work dir: %v", protocol.ErrResolverFailure, err)
	}
	defer os.RemoveAll(dir)

	outputPath := filepath.Join(dir, "output.json")
	if a.config.LegacyOutputPath != "" {
		a.legacyMu.Lock()
		defer a.legacyMu.Unlock()

		outputPath = a.config.LegacyOutputPath
		if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: clearing stale output: %v", protocol.ErrResolverFailure, err)
		}
	}

	args := append(append([]string(nil), a.config.Args...), criterion.String())
	cmd := exec.CommandContext(ctx, a.config.Command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), AnalyticsOutputEnv+"="+outputPath)
	cmd.WaitDelay = providerWaitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err = cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		a.log.Warn("analytics provider left output open after exiting", "criterion", criterion)
		err = nil
	}
	if err != nil {
		a.log.Debug("analytics provider failed", "criterion", criterion, "output", output.String())
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: analytics provider: %v: %v", protocol.ErrResolverFailure, ctx.Err(), err)
		}
		return 0, fmt.Errorf("%w: analytics provider: %v", protocol.ErrResolverFailure, err)
	}

	return parseAnalyticsOutput(outputPath)
}

func parseAnalyticsOutput(path string) (protocol.Count, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: reading analytics output: %v", protocol.ErrResolverFailure, err)
	}

	var out analyticsOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("%w: decoding analytics output: %v", protocol.ErrResolverFailure, err)
	}
	if out.ReturnValue == nil || out.ReturnValue.Size == nil {
		return 0, fmt.Errorf("%w: analytics output has no size", protocol.ErrResolverFailure)
	}

	count, err := protocol.ParseCount(out.ReturnValue.Size.String())
	if err != nil {
		return 0, fmt.Errorf("%w: analytics size: %v", protocol.ErrResolverFailure, err)
	}
	return count, nil
}
