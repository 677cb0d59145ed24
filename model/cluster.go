package model

// ClusterNode is one (text, embedding) pair of a summary tree.
// Leaves come first, synthesized nodes are appended level by level.
type ClusterNode struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Layer is the [Start, End) range of one level inside the node sequence
type Layer struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ClusterFailure records a cluster whose summary could not be built
type ClusterFailure struct {
	Layer   int    `json:"layer"`
	Cluster int    `json:"cluster"`
	Members []int  `json:"members"`
	Error   string `json:"error"`
}

// ClusterTree is the positional encoding of a summary tree
type ClusterTree struct {
	Nodes    []ClusterNode    `json:"nodes"`
	Layers   []Layer          `json:"layers"`
	Failures []ClusterFailure `json:"failures,omitempty"`
}

// Synthesized returns the nodes appended after the leaves
func (t *ClusterTree) Synthesized(leaves int) []ClusterNode {
	if t == nil || leaves >= len(t.Nodes) {
		return nil
	}
	return t.Nodes[leaves:]
}

// Depth returns the number of summary levels built
func (t *ClusterTree) Depth() int {
	if t == nil || len(t.Layers) == 0 {
		return 0
	}
	return len(t.Layers) - 1
}
