package port

import "notesrag/internal/domain"

// Splitter turns a document into an ordered sequence of overlapping chunks.
type Splitter interface {
	Split(doc domain.Document) []domain.Chunk
}
