package port

import "notesrag/internal/domain"

// CorpusSource supplies the documents to index.
type CorpusSource interface {
	LoadDocuments(root string) ([]domain.Document, error)
}
