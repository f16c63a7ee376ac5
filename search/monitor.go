package search

import "github.com/poiesic/docindex/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterQueryEmbedding(vector []float32)
	AfterSimilaritySearch(matches []*core.ChunkMatch)
	MissingDocument(id core.DocumentID)
	Finish(results []*Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string) {}
func (n *noopMonitor) AfterQueryEmbedding(_ []float32) {}
func (n *noopMonitor) AfterSimilaritySearch(_ []*core.ChunkMatch) {}
func (n *noopMonitor) MissingDocument(_ core.DocumentID) {}
func (n *noopMonitor) Finish(_ []*Result) {}
