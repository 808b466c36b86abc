package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

type fakeMetricsStore struct {
	mu    sync.Mutex
	rows  []model.HourlyMetrics
	calls int
}

func (f *fakeMetricsStore) UpsertRagMetrics(ctx context.Context, m model.HourlyMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, m)
	f.calls++
	return nil
}

func (f *fakeMetricsStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestAggregator(store MetricsStore) *MetricsAggregator {
	return &MetricsAggregator{
		store:  store,
		bucket: hourlyAccumulator{hourStart: currentHour()},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func TestMetricsAggregator_RecordQueryAccumulates(t *testing.T) {
	a := newTestAggregator(&fakeMetricsStore{})
	a.RecordQuery(3, 120, 0.8, 10*time.Millisecond, false)
	a.RecordQuery(0, 0, 0, 5*time.Millisecond, true)

	if a.bucket.queriesProcessed != 2 {
		t.Errorf("queriesProcessed = %d, want 2", a.bucket.queriesProcessed)
	}
	if a.bucket.emptyResultCount != 1 {
		t.Errorf("emptyResultCount = %d, want 1", a.bucket.emptyResultCount)
	}
	if a.bucket.errorCount != 1 {
		t.Errorf("errorCount = %d, want 1", a.bucket.errorCount)
	}
	if a.bucket.similarityCount != 1 {
		t.Errorf("similarityCount = %d, want 1 (only the non-empty query contributes)", a.bucket.similarityCount)
	}
}

func TestMetricsAggregator_RecordIngestionAccumulates(t *testing.T) {
	a := newTestAggregator(&fakeMetricsStore{})
	a.RecordIngestion(10, 2, 50*time.Millisecond, false)
	a.RecordIngestion(0, 0, 0, true)

	if a.bucket.documentsIngested != 2 {
		t.Errorf("documentsIngested = %d, want 2", a.bucket.documentsIngested)
	}
	if a.bucket.chunksCreated != 10 {
		t.Errorf("chunksCreated = %d, want 10", a.bucket.chunksCreated)
	}
	if a.bucket.errorCount != 1 {
		t.Errorf("errorCount = %d, want 1 for the failed ingestion", a.bucket.errorCount)
	}
}

func TestMetricsAggregator_CounterIncrements(t *testing.T) {
	a := newTestAggregator(&fakeMetricsStore{})
	a.IncEmbeddingCall()
	a.IncEmbeddingCall()
	a.IncVectorSearch()

	if a.bucket.embeddingAPICalls != 2 {
		t.Errorf("embeddingAPICalls = %d, want 2", a.bucket.embeddingAPICalls)
	}
	if a.bucket.vectorSearchOperations != 1 {
		t.Errorf("vectorSearchOperations = %d, want 1", a.bucket.vectorSearchOperations)
	}
}

func TestMetricsAggregator_ShutdownFlushesPendingBucket(t *testing.T) {
	store := &fakeMetricsStore{}
	a := newTestAggregator(store)
	a.RecordQuery(1, 50, 0.9, time.Millisecond, false)

	go a.flushLoop()
	a.Shutdown()

	if store.count() == 0 {
		t.Fatal("expected Shutdown to flush the pending bucket")
	}
	last := store.rows[len(store.rows)-1]
	if last.QueriesProcessed != 1 {
		t.Errorf("flushed QueriesProcessed = %d, want 1", last.QueriesProcessed)
	}
}

func TestMetricsAggregator_PersistSkipsEmptyBucket(t *testing.T) {
	store := &fakeMetricsStore{}
	a := newTestAggregator(store)
	a.persist(hourlyAccumulator{hourStart: currentHour()})
	if store.count() != 0 {
		t.Errorf("expected persist to skip an all-zero bucket, got %d calls", store.count())
	}
}

func TestMetricsAggregator_PersistComputesAverages(t *testing.T) {
	store := &fakeMetricsStore{}
	a := newTestAggregator(store)
	a.persist(hourlyAccumulator{
		hourStart:        currentHour(),
		queriesProcessed: 2,
		queryDurationSum: 200 * time.Millisecond,
		searchResultsSum: 10,
		contextTokensSum: 400,
		similaritySum:    1.6,
		similarityCount:  2,
	})
	if store.count() != 1 {
		t.Fatalf("expected one persisted row, got %d", store.count())
	}
	row := store.rows[0]
	if row.AvgQueryDurationMs != 100 {
		t.Errorf("AvgQueryDurationMs = %v, want 100", row.AvgQueryDurationMs)
	}
	if row.AvgSearchResults != 5 {
		t.Errorf("AvgSearchResults = %v, want 5", row.AvgSearchResults)
	}
	if row.AvgSimilarityScore != 0.8 {
		t.Errorf("AvgSimilarityScore = %v, want 0.8", row.AvgSimilarityScore)
	}
}
