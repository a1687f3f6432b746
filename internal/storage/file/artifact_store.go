// Package file stores model/scaler artifact pairs as JSON files named
// model_<stamp>.json and scaler_<stamp>.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/storage"
)

const ext = ".json"

// ArtifactStore implements storage.ArtifactStore on a local directory.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates the directory if needed.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty artifact directory", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

func (s *ArtifactStore) path(kind, stamp string) string {
	return filepath.Join(s.dir, kind+"_"+stamp+ext)
}

// Save writes the scaler first and the model last; a pair becomes visible
// to Latest only once both files exist.
func (s *ArtifactStore) Save(ctx context.Context, pair domain.ArtifactPair) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pair.Stamp == "" || strings.ContainsAny(pair.Stamp, `/\`) {
		return "", fmt.Errorf("%w: bad stamp %q", storage.ErrInvalidInput, pair.Stamp)
	}

	modelPath := s.path(storage.ArtifactModel, pair.Stamp)
	scalerPath := s.path(storage.ArtifactScaler, pair.Stamp)
	for _, p := range []string{modelPath, scalerPath} {
		if _, err := os.Stat(p); err == nil {
			return "", fmt.Errorf("%w: %s", storage.ErrDuplicateKey, filepath.Base(p))
		}
	}

	if err := writeJSON(scalerPath, pair.Scaler); err != nil {
		return "", err
	}
	if err := writeJSON(modelPath, pair.Model); err != nil {
		_ = os.Remove(scalerPath)
		return "", err
	}
	return modelPath, nil
}

// Load reads both halves of the pair with the given stamp.
func (s *ArtifactStore) Load(ctx context.Context, stamp string) (domain.ArtifactPair, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactPair{}, err
	}

	var pair domain.ArtifactPair
	pair.Stamp = stamp

	modelErr := readJSON(s.path(storage.ArtifactModel, stamp), &pair.Model)
	scalerErr := readJSON(s.path(storage.ArtifactScaler, stamp), &pair.Scaler)

	switch {
	case errors.Is(modelErr, fs.ErrNotExist) && errors.Is(scalerErr, fs.ErrNotExist):
		return domain.ArtifactPair{}, fmt.Errorf("%w: artifact pair %s", storage.ErrNotFound, stamp)
	case errors.Is(modelErr, fs.ErrNotExist) || errors.Is(scalerErr, fs.ErrNotExist):
		return domain.ArtifactPair{}, fmt.Errorf("%w: %s", storage.ErrIncompletePair, stamp)
	case modelErr != nil:
		return domain.ArtifactPair{}, modelErr
	case scalerErr != nil:
		return domain.ArtifactPair{}, scalerErr
	}
	return pair, nil
}

// Latest loads the newest complete pair.
func (s *ArtifactStore) Latest(ctx context.Context) (domain.ArtifactPair, error) {
	stamps, err := s.List(ctx)
	if err != nil {
		return domain.ArtifactPair{}, err
	}
	if len(stamps) == 0 {
		return domain.ArtifactPair{}, fmt.Errorf("%w: no artifact pairs in %s", storage.ErrNotFound, s.dir)
	}
	return s.Load(ctx, stamps[len(stamps)-1])
}

// List returns stamps that have both a model and a scaler file, oldest first.
func (s *ArtifactStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}

	models := make(map[string]bool)
	scalers := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		switch {
		case strings.HasPrefix(base, storage.ArtifactModel+"_"):
			models[strings.TrimPrefix(base, storage.ArtifactModel+"_")] = true
		case strings.HasPrefix(base, storage.ArtifactScaler+"_"):
			scalers[strings.TrimPrefix(base, storage.ArtifactScaler+"_")] = true
		}
	}

	stamps := make([]string, 0, len(models))
	for stamp := range models {
		if scalers[stamp] {
			stamps = append(stamps, stamp)
		}
	}
	sort.Strings(stamps)
	return stamps, nil
}

// writeJSON writes through a temp file and rename so readers never see a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ storage.ArtifactStore = (*ArtifactStore)(nil)
