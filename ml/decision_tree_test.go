package ml

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// synthHousing builds a deterministic 8-column dataset whose target depends on
// income and latitude, scaled like the real one (0..5).
func synthHousing(n int) *Dataset {
	ds := &Dataset{}
	for i := 0; i < n; i++ {
		income := 0.5 + float64(i%30)*0.5
		lat := 32.0 + float64(i%10)
		row := []float64{income, float64(i%50 + 1), 5 + float64(i%3), 1 + float64(i%2)*0.2, float64(500 + i*7%3000), 2.5 + float64(i%4)*0.25, lat, -124 + float64(i%9)}
		target := math.Min(5, 0.3*income+0.05*(lat-32))
		ds.Features = append(ds.Features, row)
		ds.Targets = append(ds.Targets, target)
	}
	return ds
}

func trainSynth(t *testing.T, n int) *RegressionTree {
	t.Helper()
	ds := synthHousing(n)
	model := NewRegressionTree(DefaultTreeParams())
	if err := model.Train(ds.Features, ds.Targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return model
}

func TestRegressionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	targets := []float64{1, 1, 3, 3}

	model := &RegressionTree{}
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	got, err = model.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestRegressionTreeNestedSplits(t *testing.T) {
	features := [][]float64{{1}, {1}, {2}, {2}, {3}, {3}, {4}, {4}}
	targets := []float64{10, 10, 20, 20, 30, 30, 40, 40}

	model := NewRegressionTree(TreeParams{MaxDepth: 2})
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", model.Depth())
	}
	if model.LeafCount() != 4 {
		t.Fatalf("expected 4 leaves, got %d", model.LeafCount())
	}

	tests := []struct {
		x    float64
		want float64
	}{
		{1, 10},
		{2, 20},
		{3, 30},
		{4, 40},
		{0, 10},
		{9, 40},
	}
	for _, tt := range tests {
		got, err := model.Predict([]float64{tt.x})
		if err != nil {
			t.Fatalf("x=%v: unexpected error: %v", tt.x, err)
		}
		if got != tt.want {
			t.Errorf("x=%v: expected %v, got %v", tt.x, tt.want, got)
		}
	}
}

func TestRegressionTreeMinSamplesLeaf(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	targets := []float64{0, 0, 0, 100}

	model := NewRegressionTree(TreeParams{MaxDepth: 3, MinSamplesLeaf: 2})
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, node := range model.nodes {
		if node.IsLeaf && node.Samples < 2 {
			t.Fatalf("leaf with %d samples violates min_samples_leaf", node.Samples)
		}
	}
}

func TestRegressionTreeTrainErrors(t *testing.T) {
	tests := []struct {
		name     string
		features [][]float64
		targets  []float64
	}{
		{name: "empty", features: nil, targets: nil},
		{name: "size mismatch", features: [][]float64{{1}, {2}}, targets: []float64{1}},
		{name: "ragged rows", features: [][]float64{{1, 2}, {3}}, targets: []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegressionTree(DefaultTreeParams()).Train(tt.features, tt.targets); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRegressionTreePredictErrors(t *testing.T) {
	model := trainSynth(t, 200)

	tests := []struct {
		name string
		row  []float64
	}{
		{name: "too short", row: []float64{1, 2, 3}},
		{name: "too long", row: make([]float64, NumFeatures+1)},
		{name: "nan", row: []float64{math.NaN(), 1, 1, 1, 1, 1, 1, 1}},
		{name: "inf", row: []float64{1, 1, 1, 1, math.Inf(1), 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.Predict(tt.row)
			if !errors.Is(err, ErrInference) {
				t.Fatalf("expected ErrInference, got %v", err)
			}
			if KindOf(err) != KindInferenceFailed {
				t.Fatalf("expected inference kind, got %v", KindOf(err))
			}
		})
	}

	untrained := &RegressionTree{}
	if _, err := untrained.Predict(make([]float64, NumFeatures)); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestRegressionTreePredictBatch(t *testing.T) {
	model := trainSynth(t, 300)
	rows := synthHousing(20).Features

	first, err := model.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(rows) {
		t.Fatalf("expected %d predictions, got %d", len(rows), len(first))
	}
	second, _ := model.PredictBatch(rows)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("row %d: prediction changed between calls", i)
		}
	}

	rows[3] = rows[3][:4]
	if _, err := model.PredictBatch(rows); KindOf(err) != KindInferenceFailed {
		t.Fatalf("expected inference failure, got %v", err)
	}
}

func TestRegressionTreeSaveLoad(t *testing.T) {
	model := trainSynth(t, 400)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.NodeCount() != model.NodeCount() || loaded.Depth() != model.Depth() {
		t.Fatalf("loaded tree shape differs")
	}
	if loaded.Depth() > 3 {
		t.Fatalf("expected depth <= 3, got %d", loaded.Depth())
	}
	for _, row := range synthHousing(50).Features {
		want, _ := model.Predict(row)
		got, err := loaded.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(loaded.FeatureRanges()) != NumFeatures {
		t.Fatalf("expected feature ranges to round-trip")
	}
}

func TestSaveUntrained(t *testing.T) {
	if err := (&RegressionTree{}).Save(filepath.Join(t.TempDir(), "m.json")); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestLoadModelErrors(t *testing.T) {
	dir := t.TempDir()
	good := trainSynth(t, 200)

	writeArtifact := func(name string, mutate func(*artifact)) string {
		art := artifact{
			Format:       ArtifactFormat,
			Version:      ArtifactVersion,
			FeatureNames: FeatureNames(),
			Params:       good.params,
			Nodes:        append([]TreeNode(nil), good.nodes...),
		}
		mutate(&art)
		payload, err := json.Marshal(art)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("\x80\x04\x95 pickle bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
		kind ErrorKind
	}{
		{
			name: "missing file",
			path: filepath.Join(dir, "missing.json"),
			want: ErrArtifactNotFound,
			kind: KindArtifactNotFound,
		},
		{
			name: "not json",
			path: corrupt,
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
		{
			name: "wrong format",
			path: writeArtifact("format.json", func(a *artifact) { a.Format = "sklearn.pickle" }),
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
		{
			name: "future version",
			path: writeArtifact("version.json", func(a *artifact) { a.Version = ArtifactVersion + 1 }),
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
		{
			name: "feature order mismatch",
			path: writeArtifact("order.json", func(a *artifact) {
				a.FeatureNames[6], a.FeatureNames[7] = a.FeatureNames[7], a.FeatureNames[6]
			}),
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
		{
			name: "no nodes",
			path: writeArtifact("empty.json", func(a *artifact) { a.Nodes = nil }),
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
		{
			name: "child cycle",
			path: writeArtifact("cycle.json", func(a *artifact) {
				a.Nodes = []TreeNode{{FeatureIdx: 0, LeftChild: 0, RightChild: 0}}
			}),
			want: ErrDeserialization,
			kind: KindDeserializationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModel(tt.path)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if KindOf(err) != tt.kind {
				t.Fatalf("expected kind %v, got %v", tt.kind, KindOf(err))
			}
			if err.Error() == "" {
				t.Fatal("expected non-empty error text")
			}
		})
	}
}
