package model

import "time"

// ChunkLineage is the 1:1 provenance and usage record for a chunk. Created in
// the same ingestion transaction as its chunk; updated on every retrieval
// that selects the chunk.
type ChunkLineage struct {
	ChunkID            string     `json:"chunkId"`
	DocumentID         string     `json:"documentId"`
	SourceType         string     `json:"sourceType"`
	SourceID           string     `json:"sourceId"`
	ContentPreview     string     `json:"contentPreview"`
	ChunkIndex         int        `json:"chunkIndex"`
	IngestedAt         time.Time  `json:"ingestedAt"`
	EmbeddingModel     string     `json:"embeddingModel"`
	RetrievalCount     int        `json:"retrievalCount"`
	LastRetrievedAt    *time.Time `json:"lastRetrievedAt,omitempty"`
	AvgSimilarityScore float64    `json:"avgSimilarityScore"`
	ImportanceScore    float64    `json:"importanceScore"`
	Tags               []string   `json:"tags,omitempty"`
}

// TraceType distinguishes an ingestion trace group from a query trace group.
type TraceType string

const (
	TraceIngestion TraceType = "ingestion"
	TraceQuery     TraceType = "query"
)

// TraceStage names one step of an ingestion or query trace.
type TraceStage string

const (
	StageIngestStart    TraceStage = "ingest_start"
	StageChunk          TraceStage = "ingest_chunk"
	StageEmbed          TraceStage = "ingest_embed"
	StageStore          TraceStage = "ingest_store"
	StageIngestComplete TraceStage = "ingest_complete"

	StageQueryStart    TraceStage = "query_start"
	StageQueryEmbed    TraceStage = "query_embed"
	StageSearch        TraceStage = "search"
	StageBM25          TraceStage = "bm25"
	StageFuse          TraceStage = "fuse"
	StageRerank        TraceStage = "rerank"
	StageRetrieve      TraceStage = "retrieve"
	StageSynthesize    TraceStage = "synthesize"
	StageInject        TraceStage = "inject"
	StageQueryComplete TraceStage = "query_complete"
	StageError         TraceStage = "error"
)

// TraceEvent is one append-only record of a single pipeline stage. A TraceID
// groups the events of one logical ingestion or query into a trace.
type TraceEvent struct {
	TraceID        string     `json:"traceId"`
	TraceType      TraceType  `json:"traceType"`
	Stage          TraceStage `json:"stage"`
	Timestamp      time.Time  `json:"timestamp"`
	DurationMs     int64      `json:"durationMs"`
	DocumentID     *string    `json:"documentId,omitempty"`
	ChunkIDs       []string   `json:"chunkIds,omitempty"`
	UserID         *string    `json:"userId,omitempty"`
	ChatID         *string    `json:"chatId,omitempty"`
	QueryText      *string    `json:"queryText,omitempty"`
	ChunksCreated  *int       `json:"chunksCreated,omitempty"`
	ChunksFiltered *int       `json:"chunksFiltered,omitempty"`
	SearchResults  *int       `json:"searchResults,omitempty"`
	Threshold      *float64   `json:"threshold,omitempty"`
	TopK           *int       `json:"topK,omitempty"`
	Scores         []float64  `json:"scores,omitempty"`
	TokensUsed     *int       `json:"tokensUsed,omitempty"`
	SourcesCount   *int       `json:"sourcesCount,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	ErrorStage     *string    `json:"errorStage,omitempty"`
}

// RetrievalResultRecord is the persisted, per-chunk record of one query's
// ranked output (distinct from service.RetrievalResult, the in-process
// response object returned to callers of Retrieve).
type RetrievalResultRecord struct {
	TraceID           string  `json:"traceId"`
	QueryText         string  `json:"queryText"`
	ChunkID           string  `json:"chunkId"`
	SimilarityScore   float64 `json:"similarityScore"`
	Rank              int     `json:"rank"`
	IncludedInContext bool    `json:"includedInContext"`
	ContextPosition   *int    `json:"contextPosition,omitempty"`
	WasRelevant       *bool   `json:"wasRelevant,omitempty"`
	FeedbackSource    *string `json:"feedbackSource,omitempty"`
}

// HourlyMetrics is upserted once per hour bucket, keyed on HourStart.
type HourlyMetrics struct {
	HourStart              time.Time `json:"hourStart"`
	DocumentsIngested      int       `json:"documentsIngested"`
	ChunksCreated          int       `json:"chunksCreated"`
	ChunksFiltered         int       `json:"chunksFiltered"`
	AvgIngestionDurationMs float64   `json:"avgIngestionDurationMs"`
	QueriesProcessed       int       `json:"queriesProcessed"`
	AvgQueryDurationMs     float64   `json:"avgQueryDurationMs"`
	AvgSearchResults       float64   `json:"avgSearchResults"`
	AvgContextTokens       float64   `json:"avgContextTokens"`
	AvgSimilarityScore     float64   `json:"avgSimilarityScore"`
	EmptyResultCount       int       `json:"emptyResultCount"`
	ErrorCount             int       `json:"errorCount"`
	EmbeddingAPICalls      int       `json:"embeddingApiCalls"`
	VectorSearchOperations int       `json:"vectorSearchOperations"`
}

// RetrievalMetrics is an in-memory, recent-window quality measurement
// produced by the Evaluator for one query.
type RetrievalMetrics struct {
	Query        string    `json:"query"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	MRR          float64   `json:"mrr"`
	ResultsCount int       `json:"resultsCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// FeedbackUserSentiment classifies how a FeedbackSignal's relevance judgment was derived.
type FeedbackUserSentiment string

const (
	FeedbackPositive FeedbackUserSentiment = "pos"
	FeedbackNegative FeedbackUserSentiment = "neg"
	FeedbackNeutral  FeedbackUserSentiment = "neu"
)

// FeedbackSignal records a post-hoc judgment of one answered query, used as
// an implicit relevance label by the Evaluator.
type FeedbackSignal struct {
	QueryID        string                 `json:"queryId"`
	ResponseUseful bool                   `json:"responseUseful"`
	SourcesCited   bool                   `json:"sourcesCited"`
	ChunksRelevant bool                   `json:"chunksRelevant"`
	UserFeedback   *FeedbackUserSentiment `json:"userFeedback,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}
