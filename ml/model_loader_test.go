package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"calihouse/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func constantTree(t *testing.T, value float64) *RegressionTree {
	t.Helper()
	ds := synthHousing(40)
	targets := make([]float64, ds.Len())
	for i := range targets {
		targets[i] = value
	}
	model := NewRegressionTree(DefaultTreeParams())
	if err := model.Train(ds.Features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return model
}

func predictOne(t *testing.T, l *Loader) (float64, error) {
	t.Helper()
	out, err := l.Predict(context.Background(), [][]float64{synthHousing(1).Features[0]})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func TestNewLoaderValidation(t *testing.T) {
	if _, err := NewLoader(LoaderConfig{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewLoader(LoaderConfig{Path: "m.json", Policy: "sometimes"}, nil); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestLoaderStartupLoadsLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	loader, err := NewLoader(LoaderConfig{Path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer loader.Close()

	if _, err := predictOne(t, loader); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	if info := loader.Info(); info.Loaded || info.LastError == "" {
		t.Fatalf("expected unloaded info with error, got %+v", info)
	}

	if err := constantTree(t, 2.5).Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := predictOne(t, loader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}

	// the in-memory model survives the artifact disappearing
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := predictOne(t, loader); err != nil {
		t.Fatalf("unexpected error after remove: %v", err)
	}

	info := loader.Info()
	if !info.Loaded || info.Nodes != 1 || len(info.FeatureNames) != NumFeatures {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestLoaderPerRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	loader, err := NewLoader(LoaderConfig{Path: path, Policy: PolicyPerRequest, CacheSize: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer loader.Close()

	if _, err := predictOne(t, loader); KindOf(err) != KindArtifactNotFound {
		t.Fatalf("expected artifact_not_found, got %v", err)
	}

	if err := constantTree(t, 1.25).Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := predictOne(t, loader)
	if err != nil || got != 1.25 {
		t.Fatalf("expected 1.25, got %v (%v)", got, err)
	}

	hits := testutil.ToFloat64(monitoring.ModelCacheHits)
	if _, err := predictOne(t, loader); err != nil {
		t.Fatal(err)
	}
	if testutil.ToFloat64(monitoring.ModelCacheHits) != hits+1 {
		t.Fatalf("expected unchanged artifact to be served from cache")
	}

	time.Sleep(10 * time.Millisecond)
	if err := constantTree(t, 4.75).Save(path); err != nil {
		t.Fatal(err)
	}
	got, err = predictOne(t, loader)
	if err != nil || got != 4.75 {
		t.Fatalf("expected rewritten artifact to be re-read, got %v (%v)", got, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := predictOne(t, loader); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound after remove, got %v", err)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := constantTree(t, 1).Save(path); err != nil {
		t.Fatal(err)
	}
	loader, err := NewLoader(LoaderConfig{Path: path, Watch: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer loader.Close()

	if got, _ := predictOne(t, loader); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if err := constantTree(t, 3).Save(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := predictOne(t, loader); got == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("model was not reloaded after the artifact changed")
}

func TestLoaderWatchKeepsModelOnCorruptWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := constantTree(t, 2).Save(path); err != nil {
		t.Fatal(err)
	}
	loader, err := NewLoader(LoaderConfig{Path: path, Watch: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	got, err := predictOne(t, loader)
	if err != nil || got != 2 {
		t.Fatalf("expected previous model to keep serving, got %v (%v)", got, err)
	}
}

func TestLoaderPredictCanceled(t *testing.T) {
	loader, err := NewLoader(LoaderConfig{Path: filepath.Join(t.TempDir(), "m.json")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Predict(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
