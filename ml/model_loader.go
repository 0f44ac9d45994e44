package ml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"calihouse/monitoring"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type LoadPolicy string

const (
	// PolicyStartup loads once and keeps the tree in memory. A missing
	// artifact is retried on the next call until one loads.
	PolicyStartup LoadPolicy = "startup"
	// PolicyPerRequest checks the file on every call and re-reads it when
	// size or mtime changed.
	PolicyPerRequest LoadPolicy = "per_request"
)

type LoaderConfig struct {
	Path      string
	Policy    LoadPolicy
	CacheSize int
	Watch     bool
}

type ModelInfo struct {
	Path          string         `json:"path"`
	Policy        LoadPolicy     `json:"policy"`
	Loaded        bool           `json:"loaded"`
	Format        string         `json:"format,omitempty"`
	Version       int            `json:"version,omitempty"`
	FeatureNames  []string       `json:"feature_names,omitempty"`
	FeatureRanges []FeatureRange `json:"feature_ranges,omitempty"`
	Params        *TreeParams    `json:"params,omitempty"`
	Depth         int            `json:"depth"`
	Nodes         int            `json:"nodes"`
	Leaves        int            `json:"leaves"`
	TrainedAt     *time.Time     `json:"trained_at,omitempty"`
	LoadedAt      *time.Time     `json:"loaded_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

func LoadModel(path string) (*RegressionTree, error) {
	model := &RegressionTree{}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}

type artifactKey struct {
	path    string
	size    int64
	modTime int64
}

type Loader struct {
	cfg    LoaderConfig
	logger *zap.Logger
	cache  *lru.Cache[artifactKey, *RegressionTree]

	mu       sync.RWMutex
	current  *RegressionTree
	loadedAt time.Time
	lastErr  error

	watcher   *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewLoader(cfg LoaderConfig, logger *zap.Logger) (*Loader, error) {
	if cfg.Path == "" {
		return nil, errors.New("model path is required")
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyStartup
	case PolicyStartup, PolicyPerRequest:
	default:
		return nil, fmt.Errorf("unknown load policy %q", cfg.Policy)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[artifactKey, *RegressionTree](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		cfg:    cfg,
		logger: logger.Named("loader"),
		cache:  cache,
		done:   make(chan struct{}),
	}

	if cfg.Policy == PolicyStartup {
		if _, err := l.reload(); err != nil {
			l.logger.Warn("model artifact not loaded at startup", zap.String("path", cfg.Path), zap.Error(err))
		}
		if cfg.Watch {
			if err := l.watch(); err != nil {
				l.logger.Warn("model artifact watch disabled", zap.String("path", cfg.Path), zap.Error(err))
			}
		}
	}
	return l, nil
}

// Model returns the tree to serve the current call.
func (l *Loader) Model() (*RegressionTree, error) {
	if l.cfg.Policy == PolicyPerRequest {
		return l.loadCached()
	}
	l.mu.RLock()
	model := l.current
	l.mu.RUnlock()
	if model != nil {
		return model, nil
	}
	return l.reload()
}

func (l *Loader) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := l.Model()
	if err != nil {
		return nil, err
	}
	return model.PredictBatch(rows)
}

func (l *Loader) Info() ModelInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info := ModelInfo{Path: l.cfg.Path, Policy: l.cfg.Policy}
	if l.lastErr != nil {
		info.LastError = l.lastErr.Error()
	}
	model := l.current
	if model == nil {
		return info
	}
	params := model.Params()
	trainedAt := model.TrainedAt()
	loadedAt := l.loadedAt
	info.Loaded = true
	info.Format = ArtifactFormat
	info.Version = ArtifactVersion
	info.FeatureNames = model.FeatureNames()
	info.FeatureRanges = model.FeatureRanges()
	info.Params = &params
	info.Depth = model.Depth()
	info.Nodes = model.NodeCount()
	info.Leaves = model.LeafCount()
	info.TrainedAt = &trainedAt
	info.LoadedAt = &loadedAt
	return info
}

func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
		l.wg.Wait()
	})
	return err
}

func (l *Loader) reload() (*RegressionTree, error) {
	model, err := LoadModel(l.cfg.Path)
	monitoring.RecordModelLoad(err)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.lastErr = err
		return nil, err
	}
	l.current = model
	l.loadedAt = time.Now()
	l.lastErr = nil
	return model, nil
}

func (l *Loader) loadCached() (*RegressionTree, error) {
	stat, err := os.Stat(l.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = &ModelError{Kind: KindArtifactNotFound, Path: l.cfg.Path}
		} else {
			err = deserializationError(l.cfg.Path, err)
		}
		monitoring.RecordModelLoad(err)
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		return nil, err
	}

	key := artifactKey{path: l.cfg.Path, size: stat.Size(), modTime: stat.ModTime().UnixNano()}
	if model, ok := l.cache.Get(key); ok {
		monitoring.ModelCacheHits.Inc()
		return model, nil
	}

	model, err := l.reload()
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, model)
	return model, nil
}

// watch follows the artifact's directory rather than the file so that
// replace-by-rename is observed.
func (l *Loader) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(l.cfg.Path)); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher
	l.wg.Add(1)
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer l.wg.Done()
	target := filepath.Clean(l.cfg.Path)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				l.logger.Warn("model artifact removed, keeping loaded model", zap.String("path", event.Name))
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, err := l.reload(); err != nil {
				l.logger.Error("model reload failed, keeping previous model", zap.String("path", event.Name), zap.Error(err))
				continue
			}
			l.logger.Info("model reloaded", zap.String("path", event.Name))
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("model watcher error", zap.Error(err))
		case <-l.done:
			return
		}
	}
}
