package config

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ReceivePath is where a waiting node accepts its configuration.
const ReceivePath = "/config"

const maxConfigSize = 1 << 20

// Receiver accepts a single configuration over HTTP for nodes started
// without a config file. The body is YAML, or TOML when the Content-Type
// says so. A configuration is only accepted once it validates, after prepare
// has been applied to it.
type Receiver struct {
	prepare func(*Config)
	router  chi.Router

	mu       sync.Mutex
	accepted bool
	configCh chan *Config
}

// NewReceiver creates a receiver. prepare may be nil.
func NewReceiver(prepare func(*Config)) *Receiver {
	rc := &Receiver{
		prepare:  prepare,
		configCh: make(chan *Config, 1),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("waiting for configuration\n"))
	})
	r.Post(ReceivePath, rc.handleConfig)
	rc.router = r
	return rc
}

// Config delivers the accepted configuration.
func (rc *Receiver) Config() <-chan *Config { return rc.configCh }

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.router.ServeHTTP(w, r)
}

func (rc *Receiver) handleConfig(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.accepted {
		http.Error(w, "configuration already received", http.StatusConflict)
		return
	}

	cfg, err := decodeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rc.prepare != nil {
		rc.prepare(cfg)
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rc.accepted = true
	rc.configCh <- cfg
	w.Write([]byte("configuration accepted\n"))
}

func decodeRequest(r *http.Request) (*Config, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	format := "yaml"
	if strings.Contains(r.Header.Get("Content-Type"), "toml") {
		format = "toml"
	}
	cfg, err := Decode(body, format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s config: %w", format, err)
	}
	return cfg, nil
}
