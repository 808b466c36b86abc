package model

import "time"

type IndexStatus string

const (
	IndexPending    IndexStatus = "Pending"
	IndexProcessing IndexStatus = "Processing"
	IndexIndexed    IndexStatus = "Indexed"
	IndexFailed     IndexStatus = "Failed"
)

// Document is an ingested unit of content. Immutable after creation except
// for the index-status/chunk-count fields the pipeline updates as it runs.
type Document struct {
	ID            string      `json:"id"`
	UserID        *string     `json:"userId,omitempty"`
	Filename      string      `json:"filename"`
	MimeType      string      `json:"mimeType"`
	ContentLength int         `json:"contentLength"`
	IndexStatus   IndexStatus `json:"indexStatus"`
	ChunkCount    int         `json:"chunkCount"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// DocumentChunk is the persisted form of a chunk: ordered text span plus its
// embedding vector. One chunk owns exactly one embedding.
type DocumentChunk struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	ChunkIndex int        `json:"chunkIndex"`
	Content    string     `json:"content"`
	Filename   string     `json:"filename"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Importance *float64   `json:"importance,omitempty"`
	Embedding  []float32  `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// AllowedMimeTypes lists the mime types the chunker knows how to strategize over.
// Nothing consults this set: any mime type is chunked, and nothing is
// logged for types outside it.
var AllowedMimeTypes = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/csv":         true,
	"application/json": true,
	"text/x-go":        true,
	"text/x-python":    true,
	"text/x-java":      true,
}

// MaxContentLengthBytes bounds a single ingestDocument call (50 MB of text).
const MaxContentLengthBytes = 50 * 1024 * 1024
