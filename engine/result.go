package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/RENCI-NRIG/impact-smc/protocol"
)

// Result is the output of a finished coordinator run.
type Result struct {
	path   string
	dir    string
	unlock func()
	once   sync.Once
}

// Collect reads the aggregate written by the engine and releases the run.
// The aggregate is returned with surrounding whitespace removed.
func (r *Result) Collect() (protocol.Aggregate, error) {
	defer r.Close()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: engine wrote no result", protocol.ErrResultUnavailable)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", protocol.ErrResultUnavailable, err)
	}

	aggregate := strings.TrimSpace(string(data))
	if aggregate == "" {
		return "", fmt.Errorf("%w: empty result", protocol.ErrResultUnavailable)
	}
	return protocol.Aggregate(aggregate), nil
}

// Close removes the run directory without reading the result. It is safe to
// call more than once.
func (r *Result) Close() {
	r.once.Do(func() {
		os.RemoveAll(r.dir)
		r.unlock()
	})
}
