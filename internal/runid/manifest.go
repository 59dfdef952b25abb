// internal/runid/manifest.go
package runid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mwiater/qosflow/internal/appconfig"
)

// Manifest records the provenance of a run next to its trace.
type Manifest struct {
	RunID           string           `json:"run_id"`
	CreatedAt       time.Time        `json:"created_at"`
	ConfigDigest    string           `json:"config_digest"`
	GitSHA          *string          `json:"git_sha"`
	GitSHAAvailable bool             `json:"git_sha_available"`
	GoVersion       string           `json:"go_version"`
	GOOS            string           `json:"goos"`
	GOARCH          string           `json:"goarch"`
	NumCPU          int              `json:"num_cpu"`
	Config          appconfig.Config `json:"config"`
}

// gitHead is swapped in tests.
var gitHead = func(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// NewManifest collects the environment fingerprint for runID.
func NewManifest(ctx context.Context, runID string, created time.Time, cfg appconfig.Config) (Manifest, error) {
	digest, err := ConfigDigest(cfg.Server, cfg.LoadGen, cfg.Experiment)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		RunID:        runID,
		CreatedAt:    created.UTC(),
		ConfigDigest: digest,
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		Config:       cfg,
	}

	gitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if sha, err := gitHead(gitCtx); err == nil && sha != "" {
		m.GitSHA = &sha
		m.GitSHAAvailable = true
	}
	return m, nil
}

// WriteManifest writes m as indented JSON to path, creating parent directories.
func WriteManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating manifest directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating manifest file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}
