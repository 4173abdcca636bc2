package index

import "github.com/kirillkom/corpus-router/internal/core/domain"

// DocumentNode is a summary tree node holding one document's chunks as leaves.
type DocumentNode struct {
	DocumentID string
	Source     string
	Chunks     []domain.Chunk
}

// SummaryIndex is a two level tree: root, documents, chunk leaves.
type SummaryIndex struct {
	nodes []DocumentNode
}

// NewSummaryIndex groups chunks by document in first-seen order.
func NewSummaryIndex(chunks []domain.Chunk) *SummaryIndex {
	x := &SummaryIndex{}
	pos := make(map[string]int)
	for _, c := range chunks {
		i, ok := pos[c.DocumentID]
		if !ok {
			i = len(x.nodes)
			pos[c.DocumentID] = i
			x.nodes = append(x.nodes, DocumentNode{DocumentID: c.DocumentID, Source: c.Source})
		}
		x.nodes[i].Chunks = append(x.nodes[i].Chunks, c)
	}
	return x
}

// All returns every leaf reachable from the root in document then chunk order.
func (x *SummaryIndex) All() []domain.Chunk {
	out := make([]domain.Chunk, 0, x.Len())
	for _, n := range x.nodes {
		out = append(out, n.Chunks...)
	}
	return out
}

func (x *SummaryIndex) Documents() []DocumentNode {
	out := make([]DocumentNode, len(x.nodes))
	copy(out, x.nodes)
	return out
}

func (x *SummaryIndex) Len() int {
	n := 0
	for _, node := range x.nodes {
		n += len(node.Chunks)
	}
	return n
}
