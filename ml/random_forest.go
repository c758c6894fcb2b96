package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

// RandomForest averages the leaf distributions of its trees.
type RandomForest struct {
	classes int
	trees   []*DecisionTree
}

type forestFile struct {
	NClasses int          `json:"n_classes"`
	Trees    [][]TreeNode `json:"trees"`
}

func NewRandomForest(classes int, trees ...[]TreeNode) *RandomForest {
	rf := &RandomForest{classes: classes}
	for _, nodes := range trees {
		rf.trees = append(rf.trees, NewDecisionTree(nodes))
	}
	return rf
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file forestFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode forest %s: %w", path, err)
	}
	if len(file.Trees) == 0 {
		return ErrModelNotTrained
	}
	*rf = *NewRandomForest(file.NClasses, file.Trees...)
	return nil
}

func (rf *RandomForest) Probabilities(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrModelNotTrained
	}
	sum := make([]float64, rf.classes)
	for i, tree := range rf.trees {
		dist, err := tree.Probabilities(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if len(dist) > len(sum) {
			sum = append(sum, make([]float64, len(dist)-len(sum))...)
		}
		for c, p := range dist {
			sum[c] += p
		}
	}
	for c := range sum {
		sum[c] /= float64(len(rf.trees))
	}
	return sum, nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	dist, err := rf.Probabilities(features)
	if err != nil {
		return 0, 0, err
	}
	if len(dist) == 0 {
		return 0, 0, ErrModelNotTrained
	}
	best := 0
	for c, p := range dist {
		if p > dist[best] {
			best = c
		}
	}
	return best, dist[best], nil
}
