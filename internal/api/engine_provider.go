package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samcharles93/textgen/internal/inference"
)

type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(engine inference.Engine, defaults inference.GenDefaults) error) error
	ListModels() ([]string, error)
}

type EngineProviderConfig struct {
	// DefaultModelPath is a model directory used when a request names none.
	DefaultModelPath string
	// ModelsPath holds one sub-directory per model.
	ModelsPath string
	// Loader is the template for every load. Its file paths are filled
	// from the resolved model directory.
	Loader inference.Loader
}

// CachedEngineProvider loads each model directory once and hands out the
// engine to one request at a time.
type CachedEngineProvider struct {
	cfg   EngineProviderConfig
	mu    sync.Mutex
	cache map[string]*engineEntry
}

type engineEntry struct {
	engine   inference.Engine
	defaults inference.GenDefaults
	mu       sync.Mutex
}

const envModelsDir = "TEXTGEN_MODELS_DIR"

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	return &CachedEngineProvider{
		cfg:   cfg,
		cache: make(map[string]*engineEntry),
	}
}

func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(engine inference.Engine, defaults inference.GenDefaults) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	entry, err := p.getOrLoad(path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.engine, entry.defaults)
}

// ListModels returns the names of the known model directories.
func (p *CachedEngineProvider) ListModels() ([]string, error) {
	seen := make(map[string]struct{})
	if p.cfg.DefaultModelPath != "" {
		seen[filepath.Base(filepath.Clean(p.cfg.DefaultModelPath))] = struct{}{}
	}
	if dir := p.modelsDir(); dir != "" {
		dirs, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			seen[filepath.Base(d)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Close releases every loaded engine.
func (p *CachedEngineProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for path, entry := range p.cache {
		if err := entry.engine.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.cache, path)
	}
	return first
}

func (p *CachedEngineProvider) getOrLoad(path string) (*engineEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	result, err := inference.LoaderFromDir(path, p.cfg.Loader).Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	newEntry := &engineEntry{
		engine:   result.Engine,
		defaults: result.GenerationDefaults,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		_ = result.Engine.Close()
		return existing, nil
	}
	p.cache[path] = newEntry
	return newEntry, nil
}

func (p *CachedEngineProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if strings.ContainsRune(modelID, filepath.Separator) {
			if !isModelDir(modelID) {
				return "", fmt.Errorf("%w: %s has no %s", ErrModelNotFound, modelID, inference.TokenizerFile)
			}
			return filepath.Clean(modelID), nil
		}
		if p.cfg.DefaultModelPath != "" && filepath.Base(filepath.Clean(p.cfg.DefaultModelPath)) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", fmt.Errorf("%w: models-path is required to resolve model %q", ErrModelNotFound, modelID)
		}
		if cand := filepath.Join(modelsDir, modelID); isModelDir(cand) {
			return cand, nil
		}
		return "", fmt.Errorf("%w: model %q not found in %s", ErrModelNotFound, modelID, modelsDir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newInvalidRequest("model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no models found in %s", ErrModelNotFound, modelsDir)
	default:
		return "", newInvalidRequest(fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
	}
}

func (p *CachedEngineProvider) modelsDir() string {
	if strings.TrimSpace(p.cfg.ModelsPath) != "" {
		return strings.TrimSpace(p.cfg.ModelsPath)
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

// discoverModels lists sub-directories of dir that contain a tokenizer.json.
func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		cand := filepath.Join(dir, e.Name())
		if isModelDir(cand) {
			models = append(models, cand)
		}
	}
	return models, nil
}

func isModelDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, inference.TokenizerFile))
	return err == nil
}
