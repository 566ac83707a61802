package ml

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const ArtifactVersion = 1

// Artifact is the persisted (model, encoder) pair. TemperatureEncoded records
// whether the model was fitted on encoder codes, and inference honors it.
type Artifact struct {
	Version            int
	Model              *LinearRegression
	Encoder            *CategoricalEncoder
	TemperatureEncoded bool
	Features           []string
	Metrics            TrainingMetrics
	TrainedAt          time.Time
}

func ArtifactExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("artifact path %s is a directory", path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return false, nil
	}
	return false, err
}

// SaveArtifact writes through a temp file and rename so a crash never leaves
// a truncated artifact at path.
func SaveArtifact(path string, artifact *Artifact) error {
	if artifact == nil || artifact.Model == nil {
		return ErrNotFitted
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(artifact); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact trusts the file contents; only the version is checked.
func LoadArtifact(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var artifact Artifact
	if err := gob.NewDecoder(file).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if artifact.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, artifact.Version)
	}
	if artifact.Model == nil {
		return nil, fmt.Errorf("decode artifact: %w", ErrNotFitted)
	}
	return &artifact, nil
}
