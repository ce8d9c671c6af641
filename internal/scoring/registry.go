package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const artifactName = "trained_model.json"

// Registry holds the process-wide active model bundle. Swaps are atomic
// with respect to prediction: a reader sees either the previous bundle or
// the new one, never a partial state.
type Registry struct {
	mu     sync.RWMutex
	active *Bundle
	dir    string
}

// NewRegistry creates a registry persisting artifacts under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Active returns the current bundle, or nil when none is loaded.
func (r *Registry) Active() *Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// IsTrained reports whether a bundle is active.
func (r *Registry) IsTrained() bool {
	return r.Active() != nil
}

// Activate persists the bundle to disk and swaps it in as the active
// model. The artifact is written to a temp file and renamed so a crashed
// write never leaves a torn artifact behind.
func (r *Registry) Activate(b *Bundle) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	path := filepath.Join(r.dir, artifactName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("activate model artifact: %w", err)
	}

	r.mu.Lock()
	r.active = b
	r.mu.Unlock()

	log.Info().
		Str("path", path).
		Int("trained_rows", b.Metrics.TrainedRows).
		Float64("roc_auc", b.Metrics.ROCAUC).
		Msg("Model bundle activated")
	return nil
}

// Load reads a previously persisted artifact and activates it in memory.
// A missing artifact is not an error; the registry simply stays empty.
func (r *Registry) Load() error {
	path := filepath.Join(r.dir, artifactName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("No model artifact on disk, starting without ML scoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read model artifact: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode model artifact: %w", err)
	}

	r.mu.Lock()
	r.active = &b
	r.mu.Unlock()

	log.Info().Str("path", path).Time("trained_at", b.TrainedAt).Msg("Model bundle loaded")
	return nil
}

// Predict scores a feature map with the active bundle.
func (r *Registry) Predict(features map[string]float64) (float64, error) {
	b := r.Active()
	if b == nil {
		return 0, ErrModelUnavailable
	}
	return b.PredictProba(features), nil
}
