package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"
)

const (
	ArtifactFormat  = "calihouse.tree"
	ArtifactVersion = 1
)

// RegressionTree is a CART regressor stored as a flat node array. Children
// always sit after their parent, so traversal cannot loop.
type RegressionTree struct {
	nodes         []TreeNode
	params        TreeParams
	width         int
	featureNames  []string
	featureRanges []FeatureRange
	trainedAt     time.Time
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

type TreeParams struct {
	MaxDepth        int `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

func DefaultTreeParams() TreeParams {
	return TreeParams{MaxDepth: 3, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

type artifact struct {
	Format        string         `json:"format"`
	Version       int            `json:"version"`
	FeatureNames  []string       `json:"feature_names"`
	FeatureRanges []FeatureRange `json:"feature_ranges,omitempty"`
	Params        TreeParams     `json:"params"`
	TrainedAt     time.Time      `json:"trained_at"`
	Nodes         []TreeNode     `json:"nodes"`
}

func NewRegressionTree(params TreeParams) *RegressionTree {
	defaults := DefaultTreeParams()
	if params.MaxDepth <= 0 {
		params.MaxDepth = defaults.MaxDepth
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = defaults.MinSamplesSplit
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = defaults.MinSamplesLeaf
	}
	return &RegressionTree{params: params}
}

func (rt *RegressionTree) Train(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	if rt.params.MaxDepth <= 0 {
		*rt = *NewRegressionTree(rt.params)
	}

	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}

	rt.width = width
	rt.nodes = rt.buildNode(features, targets, indices, 0)
	rt.featureNames = defaultFeatureNames(width)
	rt.featureRanges = ComputeFeatureRanges(features, rt.featureNames)
	rt.trainedAt = time.Now().UTC()
	return nil
}

func (rt *RegressionTree) Predict(row []float64) (float64, error) {
	if len(rt.nodes) == 0 {
		return 0, &ModelError{Kind: KindInferenceFailed, Err: ErrNotTrained}
	}
	if err := checkRow(row, rt.width); err != nil {
		return 0, err
	}
	idx := 0
	for range len(rt.nodes) {
		node := rt.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if row[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(rt.nodes) {
			return 0, inferenceError("invalid tree state at node %d", idx)
		}
	}
	return 0, inferenceError("tree traversal did not reach a leaf")
}

func (rt *RegressionTree) PredictBatch(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		v, err := rt.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (rt *RegressionTree) Depth() int {
	if len(rt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := rt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}

func (rt *RegressionTree) NodeCount() int { return len(rt.nodes) }

func (rt *RegressionTree) LeafCount() int {
	leaves := 0
	for _, node := range rt.nodes {
		if node.IsLeaf {
			leaves++
		}
	}
	return leaves
}

func (rt *RegressionTree) Params() TreeParams { return rt.params }

func (rt *RegressionTree) FeatureNames() []string { return slices.Clone(rt.featureNames) }

func (rt *RegressionTree) FeatureRanges() []FeatureRange { return slices.Clone(rt.featureRanges) }

func (rt *RegressionTree) TrainedAt() time.Time { return rt.trainedAt }

// Save writes the artifact through a temp file and rename so watchers never
// observe a half-written model.
func (rt *RegressionTree) Save(path string) error {
	if len(rt.nodes) == 0 {
		return ErrNotTrained
	}
	payload, err := json.MarshalIndent(artifact{
		Format:        ArtifactFormat,
		Version:       ArtifactVersion,
		FeatureNames:  rt.featureNames,
		FeatureRanges: rt.featureRanges,
		Params:        rt.params,
		TrainedAt:     rt.trainedAt,
		Nodes:         rt.nodes,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (rt *RegressionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ModelError{Kind: KindArtifactNotFound, Path: path}
		}
		return deserializationError(path, err)
	}
	var art artifact
	if err := json.Unmarshal(payload, &art); err != nil {
		return deserializationError(path, err)
	}
	if err := validateArtifact(&art); err != nil {
		return deserializationError(path, err)
	}
	rt.nodes = art.Nodes
	rt.params = art.Params
	rt.width = len(art.FeatureNames)
	rt.featureNames = art.FeatureNames
	rt.featureRanges = art.FeatureRanges
	rt.trainedAt = art.TrainedAt
	return nil
}

func validateArtifact(art *artifact) error {
	if art.Format != ArtifactFormat {
		return fmt.Errorf("unexpected artifact format %q", art.Format)
	}
	if art.Version != ArtifactVersion {
		return fmt.Errorf("unsupported artifact version %d", art.Version)
	}
	if want := FeatureNames(); !slices.Equal(art.FeatureNames, want) {
		return fmt.Errorf("feature order mismatch: artifact has %v, serving expects %v", art.FeatureNames, want)
	}
	if len(art.Nodes) == 0 {
		return errors.New("artifact has no nodes")
	}
	width := len(art.FeatureNames)
	for i, node := range art.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(art.Nodes) ||
			node.RightChild <= i || node.RightChild >= len(art.Nodes) {
			return fmt.Errorf("node %d: invalid child indices %d/%d", i, node.LeftChild, node.RightChild)
		}
	}
	return nil
}

func (rt *RegressionTree) buildNode(features [][]float64, targets []float64, indices []int, depth int) []TreeNode {
	value, sse := meanAndSSE(targets, indices)
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		Samples:    len(indices),
		IsLeaf:     true,
	}}
	if depth >= rt.params.MaxDepth || len(indices) < rt.params.MinSamplesSplit || sse <= 0 {
		return leaf
	}

	best, ok := rt.findBestSplit(features, targets, indices, sse)
	if !ok {
		return leaf
	}

	left, right := partition(features, indices, best.feature, best.threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}

	leftNodes := rt.buildNode(features, targets, left, depth+1)
	rightNodes := rt.buildNode(features, targets, right, depth+1)

	root := TreeNode{
		FeatureIdx: best.feature,
		Threshold:  best.threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Value:      value,
		Samples:    len(indices),
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetChildren(leftNodes, 1)...)
	nodes = append(nodes, offsetChildren(rightNodes, 1+len(leftNodes))...)
	return nodes
}

type split struct {
	feature   int
	threshold float64
	sse       float64
}

// findBestSplit scans every boundary between distinct sorted values and keeps
// the one with the lowest summed squared error. Thresholds are midpoints.
func (rt *RegressionTree) findBestSplit(features [][]float64, targets []float64, indices []int, parentSSE float64) (split, bool) {
	n := len(indices)
	minLeaf := rt.params.MinSamplesLeaf
	best := split{feature: -1, sse: parentSSE}
	order := make([]int, n)

	for f := 0; f < rt.width; f++ {
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool {
			return features[order[a]][f] < features[order[b]][f]
		})

		var totalSum, totalSq float64
		for _, i := range order {
			totalSum += targets[i]
			totalSq += targets[i] * targets[i]
		}

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			y := targets[order[k]]
			leftSum += y
			leftSq += y * y

			current := features[order[k]][f]
			next := features[order[k+1]][f]
			if current == next {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < best.sse-1e-12 {
				best = split{feature: f, threshold: current + (next-current)/2, sse: sse}
			}
		}
	}
	return best, best.feature >= 0
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func offsetChildren(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

func meanAndSSE(targets []float64, indices []int) (float64, float64) {
	if len(indices) == 0 {
		return 0, 0
	}
	var sum float64
	for _, i := range indices {
		sum += targets[i]
	}
	mean := sum / float64(len(indices))
	var sse float64
	for _, i := range indices {
		d := targets[i] - mean
		sse += d * d
	}
	return mean, sse
}

func defaultFeatureNames(width int) []string {
	if width == NumFeatures {
		return FeatureNames()
	}
	names := make([]string, width)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	return names
}
