package mlmodel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/r3dev/sentryd/internal/features"
)

// treeNode is one node of a serialized decision tree. Leaf nodes have
// Left == Right == -1 and carry LeafScore; internal nodes split on
// Feature/Threshold.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	LeafScore float64 `json:"leaf_score"`
}

// treeArtifact is the on-disk JSON document for a DecisionTreeModel.
type treeArtifact struct {
	Version int        `json:"version"`
	Nodes   []treeNode `json:"nodes"`
}

// DecisionTreeModel scores by walking a single threshold tree loaded
// from a JSON artifact. It is ready once an artifact with at least one
// node has been loaded successfully.
type DecisionTreeModel struct {
	nodes   []treeNode
	version int
}

// LoadDecisionTreeModel reads and validates a tree artifact from path.
func LoadDecisionTreeModel(path string) (*DecisionTreeModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree artifact: %w", err)
	}
	var art treeArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("decode tree artifact: %w", err)
	}
	if len(art.Nodes) == 0 {
		return nil, fmt.Errorf("tree artifact %s has no nodes", path)
	}
	for i, n := range art.Nodes {
		if n.Feature < 0 || n.Feature >= int(features.Count) {
			if n.Left != -1 || n.Right != -1 {
				return nil, fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
			}
		}
		if n.Left >= len(art.Nodes) || n.Right >= len(art.Nodes) {
			return nil, fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return &DecisionTreeModel{nodes: art.Nodes, version: art.Version}, nil
}

func (m *DecisionTreeModel) Name() string { return "decision_tree" }

// Ready reports whether the tree has nodes to walk. ModelManager checks
// this before promoting a freshly loaded candidate.
func (m *DecisionTreeModel) Ready() bool { return len(m.nodes) > 0 }

func (m *DecisionTreeModel) ScoreWithExplanation(v []float64) (float64, string, bool) {
	if len(m.nodes) == 0 {
		return 0, "", false
	}
	idx := 0
	steps := 0
	for steps < len(m.nodes)+1 {
		n := m.nodes[idx]
		if n.Left == -1 && n.Right == -1 {
			explanation := fmt.Sprintf("decision_tree v%d leaf score %.3f", m.version, n.LeafScore)
			score := n.LeafScore
			if score > 1 {
				score = 1
			}
			if score < 0 {
				score = 0
			}
			return score, explanation, true
		}
		if n.Feature < 0 || n.Feature >= len(v) {
			return 0, "", false
		}
		if v[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		if idx < 0 || idx >= len(m.nodes) {
			return 0, "", false
		}
		steps++
	}
	return 0, "", false
}
