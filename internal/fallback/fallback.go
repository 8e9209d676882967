// Package fallback keeps the registry of encoders that replace the hardware
// session when it cannot be opened.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/session"
)

// Encoder is what every fallback provides. *session.Session satisfies it too.
type Encoder interface {
	Encode(f session.Frame) (session.Packet, bool, error)
	Flush() ([]session.Packet, error)
	Header() ([]byte, bool)
	SEI() ([]byte, bool)
	Stats() session.Stats
	Close() error
}

// Request is passed to every factory.
type Request struct {
	Settings config.Settings
	Video    config.Video
	Metrics  *metrics.Metrics
	// FFmpegPath overrides the ffmpeg binary.
	FFmpegPath string
	// Cause is the hardware failure that led here. It heads the joined
	// error when every fallback fails too.
	Cause error
}

// Factory opens one kind of fallback encoder.
type Factory func(ctx context.Context, req Request) (Encoder, error)

type entry struct {
	name     string
	priority int
	factory  Factory
}

var (
	mu       sync.RWMutex
	registry []entry
)

// Register adds a factory. Lower priorities are tried first. Registering a
// name twice replaces the earlier factory.
func Register(name string, priority int, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	for i := range registry {
		if registry[i].name == name {
			registry[i] = entry{name, priority, f}
			sortLocked()
			return
		}
	}
	registry = append(registry, entry{name, priority, f})
	sortLocked()
}

func sortLocked() {
	sort.SliceStable(registry, func(i, j int) bool {
		return registry[i].priority < registry[j].priority
	})
}

// Names lists registered encoders in the order Open tries them.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.name
	}
	return names
}

// Open tries each registered encoder in turn and returns the first that
// opens, with its name. If all fail, req.Cause and the per-encoder errors
// are joined into one FallbackError.
func Open(ctx context.Context, req Request) (Encoder, string, error) {
	mu.RLock()
	entries := append([]entry(nil), registry...)
	mu.RUnlock()

	log := logging.L("fallback")
	var errs []error
	if req.Cause != nil {
		errs = append(errs, req.Cause)
	}
	for _, e := range entries {
		enc, err := e.factory(ctx, req)
		if err == nil {
			log.Info("fallback encoder opened", "encoder", e.name)
			req.Metrics.Fallback(e.name)
			return enc, e.name, nil
		}
		log.Warn("fallback encoder unavailable", "encoder", e.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	if len(entries) == 0 {
		errs = append(errs, errors.New("no fallback encoders registered"))
	}
	return nil, "", nverrors.NewFallbackError(errors.Join(errs...))
}
