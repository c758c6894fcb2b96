package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type DecisionTree struct {
	nodes []TreeNode
}

// TreeNode is one node of a flattened tree. Counts holds the training class
// distribution of a leaf when the exporter provides it.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	ClassLabel int       `json:"class_label"`
	IsLeaf     bool      `json:"is_leaf"`
	Counts     []float64 `json:"counts,omitempty"`
}

func NewDecisionTree(nodes []TreeNode) *DecisionTree {
	return &DecisionTree{nodes: nodes}
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, 0, err
	}
	return leaf.ClassLabel, leafConfidence(leaf), nil
}

// Probabilities returns the leaf class distribution, one-hot when the leaf
// has no counts.
func (dt *DecisionTree) Probabilities(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return leafDistribution(leaf, dt.classCount()), nil
}

func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
	if len(dt.nodes) == 0 {
		return TreeNode{}, ErrModelNotTrained
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, fmt.Errorf("feature index %d out of range for %d features", node.FeatureIdx, len(features))
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
	return TreeNode{}, errors.New("tree contains a cycle")
}

func (dt *DecisionTree) classCount() int {
	count := 0
	for _, node := range dt.nodes {
		if node.ClassLabel+1 > count {
			count = node.ClassLabel + 1
		}
		if len(node.Counts) > count {
			count = len(node.Counts)
		}
	}
	return count
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var nodes []TreeNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return fmt.Errorf("decode tree %s: %w", path, err)
	}
	if len(nodes) == 0 {
		return ErrModelNotTrained
	}
	dt.nodes = nodes
	return nil
}

func leafConfidence(leaf TreeNode) float64 {
	total := 0.0
	for _, c := range leaf.Counts {
		total += c
	}
	if total == 0 || leaf.ClassLabel < 0 || leaf.ClassLabel >= len(leaf.Counts) {
		return 1
	}
	return leaf.Counts[leaf.ClassLabel] / total
}

func leafDistribution(leaf TreeNode, classes int) []float64 {
	if classes < len(leaf.Counts) {
		classes = len(leaf.Counts)
	}
	if classes <= leaf.ClassLabel {
		classes = leaf.ClassLabel + 1
	}
	dist := make([]float64, classes)
	total := 0.0
	for _, c := range leaf.Counts {
		total += c
	}
	if total == 0 {
		if leaf.ClassLabel >= 0 {
			dist[leaf.ClassLabel] = 1
		}
		return dist
	}
	for i, c := range leaf.Counts {
		dist[i] = c / total
	}
	return dist
}
