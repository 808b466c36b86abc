package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LineageUsageUpdater applies the EMA usage update every retrieved chunk
// gets: retrievalCount += 1, avgSimilarityScore = 0.9*prev + 0.1*score.
// traceID identifies the query that retrieved the chunk, for implementations
// that mirror a RETRIEVED_BY edge alongside the relational update.
type LineageUsageUpdater interface {
	UpdateChunkLineageUsage(ctx context.Context, traceID, chunkID string, score float64) error
}

// ResultsStore persists the per-chunk ranked outcome of a query for offline
// evaluation. Optional: a nil store on the orchestrator skips persistence.
type ResultsStore interface {
	CreateRetrievalResults(ctx context.Context, results []model.RetrievalResultRecord) error
}

// RetrieveOptions configures one orchestrator call; zero values fall back to
// the orchestrator's configured defaults.
type RetrieveOptions struct {
	UserID          string
	TopK            int
	UseHybridSearch bool
	UseReranking    bool
	MaxTokens       int
	Strategy        SynthesisStrategy
}

// RetrievalOutcome is the orchestrator's top-level response.
type RetrievalOutcome struct {
	Items              []RankedChunk
	Synthesis          SynthesisResult
	TotalTokensUsed    int
	SearchTime         time.Duration
	QueryEmbeddingTime time.Duration
	TraceID            string
}

const (
	diversityDropCutoff = 0.7
	defaultTopK         = 20
)

// RetrievalOrchestrator is the single top-level entry composing the Dense
// Searcher, BM25 scorer, Hybrid Fuser, Re-ranker, and Context Synthesizer;
// enforces userId isolation and formats the final prompt context.
type RetrievalOrchestrator struct {
	embedder    QueryEmbedder
	dense       *DenseSearcher
	corpus      CorpusFetcher
	fuser       *Fuser
	reranker    *Reranker
	synthesizer *Synthesizer
	evaluator   *Evaluator
	lineage     LineageUsageUpdater
	traces      *TraceBuffer
	results     ResultsStore
	metrics     *MetricsAggregator
}

// SetMetricsAggregator attaches an optional hourly metrics sink. A nil
// aggregator (the default) skips rollup entirely.
func (o *RetrievalOrchestrator) SetMetricsAggregator(m *MetricsAggregator) {
	o.metrics = m
}

// NewRetrievalOrchestrator wires the full retrieval stack.
func NewRetrievalOrchestrator(
	embedder QueryEmbedder,
	dense *DenseSearcher,
	corpus CorpusFetcher,
	fuser *Fuser,
	reranker *Reranker,
	synthesizer *Synthesizer,
	evaluator *Evaluator,
	lineage LineageUsageUpdater,
	traces *TraceBuffer,
) *RetrievalOrchestrator {
	return &RetrievalOrchestrator{
		embedder:    embedder,
		dense:       dense,
		corpus:      corpus,
		fuser:       fuser,
		reranker:    reranker,
		synthesizer: synthesizer,
		evaluator:   evaluator,
		lineage:     lineage,
		traces:      traces,
	}
}

// SetResultsStore attaches an optional sink for per-chunk retrieval
// outcomes, persisted asynchronously after each query.
func (o *RetrievalOrchestrator) SetResultsStore(store ResultsStore) {
	o.results = store
}

// Retrieve runs the full state machine:
// START -> EMBED -> (SEARCH, BM25|KEYWORD) -> FUSE -> RERANK -> SYNTH -> COMPLETE | ERROR(stage).
// The sparse half of search runs BM25 when useHybridSearch is set, else a
// crude keyword (substring) search over the same fetched corpus.
// Any stage failure emits an error event and returns a typed error; the
// caller is expected to fall back to an empty-but-structured result.
func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (outcome *RetrievalOutcome, err error) {
	traceID := generateTraceId()
	o.emit(traceID, model.StageQueryStart, query, opts.UserID, nil)

	queryStart := time.Now()
	if o.metrics != nil {
		defer func() {
			searchResults, contextTokens, avgSim := 0, 0, 0.0
			if outcome != nil {
				searchResults = len(outcome.Items)
				contextTokens = outcome.TotalTokensUsed
				if searchResults > 0 {
					var sum float64
					for _, it := range outcome.Items {
						sum += it.RerankedScore
					}
					avgSim = sum / float64(searchResults)
				}
			}
			o.metrics.RecordQuery(searchResults, contextTokens, avgSim, time.Since(queryStart), err != nil)
		}()
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = SynthesizeTruncate
	}

	if query == "" {
		o.emit(traceID, model.StageQueryComplete, query, opts.UserID, nil)
		return &RetrievalOutcome{TraceID: traceID}, nil
	}

	semanticThreshold, _ := o.thresholds()

	embedStart := time.Now()
	queryVecs, err := o.embedder.Embed(ctx, []string{query})
	embedDuration := time.Since(embedStart)
	if err != nil {
		o.fail(traceID, "embed", err)
		return nil, &ragerr.EmbeddingError{Kind: ragerr.EmbeddingTransient, Cause: err}
	}
	o.emit(traceID, model.StageQueryEmbed, query, opts.UserID, nil)
	queryVec := queryVecs[0]

	select {
	case <-ctx.Done():
		o.fail(traceID, "search", ctx.Err())
		return nil, &ragerr.Cancelled{Stage: "search"}
	default:
	}

	searchStart := time.Now()
	var dense []VectorSearchResult
	var sparse []VectorSearchResult

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = o.dense.Search(gCtx, queryVec, DenseSearchOptions{Threshold: semanticThreshold, TopK: topK * 2, UserID: opts.UserID})
		return err
	})

	if o.corpus != nil {
		if opts.UseHybridSearch {
			g.Go(func() error {
				corpus, err := o.corpus.FetchCorpus(gCtx, opts.UserID)
				if err != nil {
					return nil // sparse search is additive; corpus fetch failure degrades to pure semantic
				}
				scorer := NewBM25Scorer()
				scorer.PreprocessCorpus(corpus)
				sparse = scorer.Search(query, topK*2)
				return nil
			})
		} else {
			g.Go(func() error {
				corpus, err := o.corpus.FetchCorpus(gCtx, opts.UserID)
				if err != nil {
					return nil // sparse search is additive; corpus fetch failure degrades to pure semantic
				}
				sparse = KeywordSearch(corpus, query, topK*2)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		o.fail(traceID, "search", err)
		return nil, &ragerr.SearchError{Cause: err}
	}
	searchDuration := time.Since(searchStart)
	o.emitSearch(traceID, query, opts.UserID, len(dense)+len(sparse), semanticThreshold, topK)

	candidates := o.fuser.Fuse(dense, sparse)
	o.emit(traceID, model.StageFuse, query, opts.UserID, nil)

	if len(candidates) == 0 {
		o.emit(traceID, model.StageQueryComplete, query, opts.UserID, nil)
		return &RetrievalOutcome{TraceID: traceID, SearchTime: searchDuration, QueryEmbeddingTime: embedDuration}, nil
	}

	var ranked []RankedChunk
	if opts.UseReranking {
		ranked = o.reranker.Hybrid(ctx, query, candidates, topK)
	} else {
		ranked = o.diversityFilter(candidates, topK)
	}
	o.emit(traceID, model.StageRerank, query, opts.UserID, nil)

	synthesis := o.synthesizer.Synthesize(ctx, ranked, strategy, query, true)
	o.emit(traceID, model.StageSynthesize, query, opts.UserID, nil)
	o.emit(traceID, model.StageRetrieve, query, opts.UserID, nil)
	o.emit(traceID, model.StageInject, query, opts.UserID, nil)

	if o.lineage != nil {
		for _, rc := range ranked {
			_ = o.lineage.UpdateChunkLineageUsage(ctx, traceID, rc.ChunkID, rc.RerankedScore)
		}
	}

	if o.results != nil {
		o.persistResults(traceID, query, ranked, synthesis)
	}

	o.emit(traceID, model.StageQueryComplete, query, opts.UserID, nil)

	return &RetrievalOutcome{
		Items:              ranked,
		Synthesis:          synthesis,
		TotalTokensUsed:    synthesis.TokenCount,
		SearchTime:         searchDuration,
		QueryEmbeddingTime: embedDuration,
		TraceID:            traceID,
	}, nil
}

// diversityFilter is the crude fallback diversity pass used when hybrid
// reranking is off: pairwise Jaccard > 0.7 drops the later (lower-ranked)
// candidate, independent of the reranker's configured diversityWeight.
func (o *RetrievalOrchestrator) diversityFilter(candidates []VectorSearchResult, topK int) []RankedChunk {
	var kept []VectorSearchResult
	var sets []map[string]struct{}

	for _, c := range candidates {
		set := jaccardTokenSet(c.Content)
		dup := false
		for _, s := range sets {
			if jaccardSimilarity(set, s) > diversityDropCutoff {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, c)
		sets = append(sets, set)
		if topK > 0 && len(kept) >= topK {
			break
		}
	}

	ranked := make([]RankedChunk, len(kept))
	for i, c := range kept {
		rc := rankedFromCandidate(c)
		rc.Rank = i + 1
		ranked[i] = rc
	}
	return ranked
}

// EnrichPrompt wraps the formatted retrieval inside
// <retrieved_knowledge>...</retrieved_knowledge> appended to systemContext.
// An empty retrieval returns systemContext unchanged.
func (o *RetrievalOrchestrator) EnrichPrompt(ctx context.Context, message, systemContext string, userID string) (string, error) {
	outcome, err := o.Retrieve(ctx, message, RetrieveOptions{UserID: userID, UseHybridSearch: true, UseReranking: true})
	if err != nil {
		return systemContext, err
	}
	if outcome.Synthesis.Content == "" {
		return systemContext, nil
	}

	var b strings.Builder
	b.WriteString(systemContext)
	b.WriteString("\n\n<retrieved_knowledge>\n")
	b.WriteString(outcome.Synthesis.Content)
	b.WriteString("\n</retrieved_knowledge>")
	return b.String(), nil
}

func (o *RetrievalOrchestrator) thresholds() (semantic, keyword float64) {
	if o.evaluator == nil {
		return 0.25, 0.3
	}
	return o.evaluator.Thresholds()
}

func (o *RetrievalOrchestrator) emit(traceID string, stage model.TraceStage, query, userID string, extra map[string]any) {
	if o.traces == nil {
		return
	}
	event := model.TraceEvent{
		TraceID:   traceID,
		TraceType: model.TraceQuery,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		QueryText: &query,
	}
	if userID != "" {
		event.UserID = &userID
	}
	o.traces.Record(event)
}

func (o *RetrievalOrchestrator) emitSearch(traceID, query, userID string, results int, threshold float64, topK int) {
	if o.traces == nil {
		return
	}
	event := model.TraceEvent{
		TraceID:       traceID,
		TraceType:     model.TraceQuery,
		Stage:         model.StageSearch,
		Timestamp:     time.Now().UTC(),
		QueryText:     &query,
		SearchResults: &results,
		Threshold:     &threshold,
		TopK:          &topK,
	}
	if userID != "" {
		event.UserID = &userID
	}
	o.traces.Record(event)
}

// persistResults builds one RetrievalResultRecord per ranked chunk and hands
// them to the results store on a detached context, fire-and-forget like trace
// flushing: a persistence failure never fails the query.
func (o *RetrievalOrchestrator) persistResults(traceID, query string, ranked []RankedChunk, synthesis SynthesisResult) {
	included := make(map[string]int, len(synthesis.Sources))
	for pos, src := range synthesis.Sources {
		included[fmt.Sprintf("%s:%d", src.DocumentID, src.ChunkIndex)] = pos
	}

	records := make([]model.RetrievalResultRecord, len(ranked))
	for i, rc := range ranked {
		rec := model.RetrievalResultRecord{
			TraceID:         traceID,
			QueryText:       query,
			ChunkID:         rc.ChunkID,
			SimilarityScore: rc.RerankedScore,
			Rank:            rc.Rank,
		}
		if pos, ok := included[fmt.Sprintf("%s:%d", rc.DocumentID, rc.ChunkIndex)]; ok {
			rec.IncludedInContext = true
			p := pos
			rec.ContextPosition = &p
		}
		records[i] = rec
	}

	results := o.results
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), traceFlushInterval)
		defer cancel()
		if err := results.CreateRetrievalResults(ctx, records); err != nil {
			slog.Warn("[DEBUG-TRACE] retrieval result persistence failed", "trace_id", traceID, "error", err)
		}
	}()
}

func (o *RetrievalOrchestrator) fail(traceID, stage string, err error) {
	if o.traces == nil {
		return
	}
	msg := err.Error()
	o.traces.Record(model.TraceEvent{
		TraceID:      traceID,
		TraceType:    model.TraceQuery,
		Stage:        model.StageError,
		Timestamp:    time.Now().UTC(),
		ErrorMessage: &msg,
		ErrorStage:   &stage,
	})
}
