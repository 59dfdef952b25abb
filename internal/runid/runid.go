// internal/runid/runid.go
// Package runid derives reproducible run identifiers and writes run manifests.
package runid

import (
	"fmt"
	"time"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/hashing"
)

// TimestampLayout is the UTC token prefixed to every run id.
const TimestampLayout = "20060102T150405Z"

// digestLen is the number of hex characters of the config digest kept in the id.
const digestLen = 12

type identity struct {
	Server     appconfig.ServerConfig     `json:"server"`
	LoadGen    appconfig.LoadGenConfig    `json:"loadgen"`
	Experiment appconfig.ExperimentConfig `json:"experiment"`
}

// Derive returns "<UTC timestamp>-<12 hex digest>" for the given configuration.
// The digest covers server, loadgen and experiment only.
func Derive(ts time.Time, server appconfig.ServerConfig, loadgen appconfig.LoadGenConfig, experiment appconfig.ExperimentConfig) (string, error) {
	digest, err := ConfigDigest(server, loadgen, experiment)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", ts.UTC().Format(TimestampLayout), digest[:digestLen]), nil
}

// ForConfig is Derive over the sections of cfg.
func ForConfig(ts time.Time, cfg appconfig.Config) (string, error) {
	return Derive(ts, cfg.Server, cfg.LoadGen, cfg.Experiment)
}

// ConfigDigest returns the full sha256 hex digest of the canonical identity document.
func ConfigDigest(server appconfig.ServerConfig, loadgen appconfig.LoadGenConfig, experiment appconfig.ExperimentConfig) (string, error) {
	digest, err := hashing.CanonicalDigest(identity{Server: server, LoadGen: loadgen, Experiment: experiment})
	if err != nil {
		return "", fmt.Errorf("run id digest: %w", err)
	}
	return digest, nil
}
