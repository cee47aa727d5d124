package domain

// Document is one note of the corpus. Name identifies it within a corpus.
type Document struct {
	Name    string
	Content string
}

// Chunk is a window of a document's text. Start and End are rune offsets
// into the document content, End exclusive.
type Chunk struct {
	ID           string
	DocumentName string
	Sequence     int
	Start        int
	End          int
	Text         string
}

// IndexRecord is the unit persisted to a vector store.
type IndexRecord struct {
	Document  string    `json:"document"`
	Sequence  int       `json:"sequence"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// RetrievalMatch is one stored record returned for a query vector.
// InsertOrder is the position the record was first written to its store
// and breaks similarity ties.
type RetrievalMatch struct {
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
	Document    string  `json:"document"`
	Sequence    int     `json:"sequence"`
	InsertOrder uint64  `json:"-"`
}

type AnswerRequest struct {
	Question string
}

type AnswerResult struct {
	ContextUsed []string         `json:"context_used"`
	AnswerText  string           `json:"answer"`
	Matches     []RetrievalMatch `json:"matches,omitempty"`
}

// DocumentFailure reports a document whose records could not be produced.
type DocumentFailure struct {
	Document string
	Stage    Stage
	Err      error
}

// IndexReport is the outcome of indexing a corpus.
type IndexReport struct {
	Records      []IndexRecord
	Indexed      []string
	Failed       []DocumentFailure
	Pruned       []string // stored documents no longer in the corpus
	ChunkCount   int
	EmbedBatches int
}
