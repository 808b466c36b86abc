package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

const metricsFlushInterval = time.Hour

// MetricsStore persists one hourly aggregate bucket.
type MetricsStore interface {
	UpsertRagMetrics(ctx context.Context, m model.HourlyMetrics) error
}

// MetricsAggregator accumulates ingestion and query counters in memory and
// flushes one rolled-up HourlyMetrics row per bucket, mirroring TraceBuffer's
// batched-flush shape: callers record events cheaply, persistence happens on
// a timer and never blocks or fails the caller.
type MetricsAggregator struct {
	mu     sync.Mutex
	store  MetricsStore
	bucket hourlyAccumulator

	stopCh chan struct{}
	doneCh chan struct{}
}

type hourlyAccumulator struct {
	hourStart              time.Time
	documentsIngested      int
	chunksCreated          int
	chunksFiltered         int
	ingestionDurationSum   time.Duration
	queriesProcessed       int
	queryDurationSum       time.Duration
	searchResultsSum       int
	contextTokensSum       int
	similaritySum          float64
	similarityCount        int
	emptyResultCount       int
	errorCount             int
	embeddingAPICalls      int
	vectorSearchOperations int
}

// NewMetricsAggregator creates a MetricsAggregator and starts its hourly
// flush timer. Call Shutdown to stop it cleanly.
func NewMetricsAggregator(store MetricsStore) *MetricsAggregator {
	a := &MetricsAggregator{
		store:  store,
		bucket: hourlyAccumulator{hourStart: currentHour()},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

func currentHour() time.Time {
	return time.Now().UTC().Truncate(time.Hour)
}

// RecordIngestion folds one document ingestion's outcome into the active
// bucket. failed documents still count toward documentsIngested and
// contribute to errorCount.
func (a *MetricsAggregator) RecordIngestion(chunksCreated, chunksFiltered int, duration time.Duration, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollBucketLocked()
	a.bucket.documentsIngested++
	a.bucket.chunksCreated += chunksCreated
	a.bucket.chunksFiltered += chunksFiltered
	a.bucket.ingestionDurationSum += duration
	if failed {
		a.bucket.errorCount++
	}
}

// RecordQuery folds one Retrieve call's outcome into the active bucket.
func (a *MetricsAggregator) RecordQuery(searchResults, contextTokens int, avgSimilarity float64, duration time.Duration, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollBucketLocked()
	a.bucket.queriesProcessed++
	a.bucket.queryDurationSum += duration
	a.bucket.searchResultsSum += searchResults
	a.bucket.contextTokensSum += contextTokens
	if searchResults == 0 {
		a.bucket.emptyResultCount++
	} else {
		a.bucket.similaritySum += avgSimilarity
		a.bucket.similarityCount++
	}
	if failed {
		a.bucket.errorCount++
	}
}

// IncEmbeddingCall records one outbound embedding API call.
func (a *MetricsAggregator) IncEmbeddingCall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollBucketLocked()
	a.bucket.embeddingAPICalls++
}

// IncVectorSearch records one dense vector similarity search.
func (a *MetricsAggregator) IncVectorSearch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollBucketLocked()
	a.bucket.vectorSearchOperations++
}

// rollBucketLocked starts a fresh bucket if the wall clock has moved into a
// new hour since the last record, flushing the completed one first. Must be
// called with a.mu held.
func (a *MetricsAggregator) rollBucketLocked() {
	now := currentHour()
	if now.Equal(a.bucket.hourStart) {
		return
	}
	completed := a.bucket
	a.bucket = hourlyAccumulator{hourStart: now}
	go a.persist(completed)
}

func (a *MetricsAggregator) flushLoop() {
	ticker := time.NewTicker(metricsFlushInterval)
	defer ticker.Stop()
	defer close(a.doneCh)

	for {
		select {
		case <-ticker.C:
			a.flushCurrent()
		case <-a.stopCh:
			a.flushCurrent()
			return
		}
	}
}

func (a *MetricsAggregator) flushCurrent() {
	a.mu.Lock()
	completed := a.bucket
	if now := currentHour(); !now.Equal(a.bucket.hourStart) {
		a.bucket = hourlyAccumulator{hourStart: now}
	}
	a.mu.Unlock()
	a.persist(completed)
}

func (a *MetricsAggregator) persist(b hourlyAccumulator) {
	if a.store == nil || (b.documentsIngested == 0 && b.queriesProcessed == 0 && b.embeddingAPICalls == 0 && b.vectorSearchOperations == 0) {
		return
	}

	m := model.HourlyMetrics{
		HourStart:              b.hourStart,
		DocumentsIngested:      b.documentsIngested,
		ChunksCreated:          b.chunksCreated,
		ChunksFiltered:         b.chunksFiltered,
		QueriesProcessed:       b.queriesProcessed,
		EmptyResultCount:       b.emptyResultCount,
		ErrorCount:             b.errorCount,
		EmbeddingAPICalls:      b.embeddingAPICalls,
		VectorSearchOperations: b.vectorSearchOperations,
	}
	if b.documentsIngested > 0 {
		m.AvgIngestionDurationMs = float64(b.ingestionDurationSum.Milliseconds()) / float64(b.documentsIngested)
	}
	if b.queriesProcessed > 0 {
		m.AvgQueryDurationMs = float64(b.queryDurationSum.Milliseconds()) / float64(b.queriesProcessed)
		m.AvgSearchResults = float64(b.searchResultsSum) / float64(b.queriesProcessed)
		m.AvgContextTokens = float64(b.contextTokensSum) / float64(b.queriesProcessed)
	}
	if b.similarityCount > 0 {
		m.AvgSimilarityScore = b.similaritySum / float64(b.similarityCount)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.store.UpsertRagMetrics(ctx, m); err != nil {
		slog.Warn("[DEBUG-TRACE] hourly metrics flush failed", "hour_start", b.hourStart, "error", err)
	}
}

// Shutdown stops the flush timer and performs one final flush.
func (a *MetricsAggregator) Shutdown() {
	close(a.stopCh)
	<-a.doneCh
}
