// benchmark-model-routing compares latency between Gemini 2.5 Flash via
// Vertex AI and via OpenRouter for the two LLM-backed components this
// engine actually wires up: the re-ranker's ScoreBatch relevance rescore
// and the synthesizer's Summarize compression pass.
//
// Usage:
//
//	OPENROUTER_API_KEY=sk-... GOOGLE_CLOUD_PROJECT=ragcore-prod \
//	  go run ./cmd/benchmark-model-routing
//
// Results are printed as a markdown table to stdout. Redirect to file as needed.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/connexus-ai/ragcore/internal/gcpclient"
	"github.com/connexus-ai/ragcore/internal/service"
)

// llmComponent is exactly what the orchestrator wires a reranker/synthesizer
// LLM adapter through: service.LLMRelevanceScorer and service.LLMSummarizer.
type llmComponent interface {
	service.LLMRelevanceScorer
	service.LLMSummarizer
}

// benchCase holds one benchmark call: a rescore against candidate chunks, or
// a summarize over a single retrieved chunk's content.
type benchCase struct {
	ID        int
	Operation string // "rescore" or "summarize"
	Query     string // rescore only
	Texts     []string
}

// benchResult stores timing for one provider + case.
type benchResult struct {
	CaseID    int
	Provider  string
	LatencyMs int64
	Error     string
}

var cases = []benchCase{
	{1, "rescore", "What is the default context synthesis token budget?", []string{
		"The context synthesizer enforces a default budget of 4000 tokens per query, truncating or summarizing chunks that don't fit.",
		"Recency decay blends similarity with an exponential decay over each chunk's createdAt timestamp.",
		"The onboarding wiki covers vacation policy, expense reports, and badge access requests.",
	}},
	{2, "rescore", "How does MMR diversify retrieval results?", []string{
		"Maximal Marginal Relevance trades off a candidate's similarity to the query against its similarity to chunks already selected.",
		"BM25 scores terms using inverse document frequency and length-normalized term frequency.",
		"The trace buffer holds the most recent 200 events in a fixed-size ring before they're flushed to durable storage.",
	}},
	{3, "rescore", "What statistics does BM25 use for scoring?", []string{
		"BM25 combines inverse document frequency with term frequency, normalized by document length against the corpus average.",
		"The evaluator auto-tunes the semantic similarity threshold weekly based on a rolling precision/recall window.",
		"Dense search runs cosine similarity over pgvector embeddings scoped to the querying user.",
	}},
	{4, "summarize", "", []string{
		"The ingestion pipeline chunks an incoming document using a configurable token window with overlap, computes a " +
			"content hash per chunk for idempotent re-ingestion, embeds each chunk through the configured provider, and " +
			"bulk-inserts the chunk rows alongside their vectors in a single batched transaction. A lineage row is created " +
			"per chunk to track retrieval count and recency-weighted usage over time.",
	}},
	{5, "summarize", "", []string{
		"The evaluator keeps a seven-day rolling window of retrieval metrics. When precision drops below 0.5 it raises the " +
			"semantic similarity threshold in fixed steps; when recall drops below 0.5 while precision stays high it lowers " +
			"the threshold instead. Thresholds are capped at 0.5 and floored at 0.15 so auto-tuning never locks retrieval out " +
			"entirely or floods it with noise.",
	}},
}

func main() {
	openrouterKey := os.Getenv("OPENROUTER_API_KEY")
	project := os.Getenv("GOOGLE_CLOUD_PROJECT")
	location := os.Getenv("VERTEX_AI_LOCATION")

	if project == "" {
		project = "ragcore-prod"
	}
	if location == "" {
		location = "us-east4"
	}

	ctx := context.Background()

	var vertexClient *gcpclient.GenAIAdapter
	var openrouterClient *gcpclient.BYOLLMClient

	vertexClient, err := gcpclient.NewGenAIAdapter(ctx, project, location, "gemini-2.5-flash")
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARN: Vertex AI unavailable: %v\n", err)
		vertexClient = nil
	}

	if openrouterKey != "" {
		openrouterClient = gcpclient.NewBYOLLMClient(
			openrouterKey,
			"https://openrouter.ai/api/v1",
			"google/gemini-2.5-flash",
		)
	} else {
		fmt.Fprintln(os.Stderr, "WARN: OPENROUTER_API_KEY not set — skipping OpenRouter")
	}

	if vertexClient == nil && openrouterClient == nil {
		fmt.Fprintln(os.Stderr, "ERROR: at least one provider must be available")
		os.Exit(1)
	}

	providerCount := 0
	if vertexClient != nil {
		providerCount++
	}
	if openrouterClient != nil {
		providerCount++
	}

	fmt.Fprintf(os.Stderr, "Benchmark: Gemini 2.5 Flash — %d provider(s)\n", providerCount)
	if vertexClient != nil {
		fmt.Fprintf(os.Stderr, "  Vertex AI: %s/%s\n", project, location)
	}
	if openrouterClient != nil {
		fmt.Fprintln(os.Stderr, "  OpenRouter: google/gemini-2.5-flash")
	}
	fmt.Fprintf(os.Stderr, "Cases: %d × %d providers = %d measurements\n\n", len(cases), providerCount, len(cases)*providerCount)

	var results []benchResult

	for _, c := range cases {
		fmt.Fprintf(os.Stderr, "  [%d/%d] %s ...\n", c.ID, len(cases), c.Operation)

		if vertexClient != nil {
			r := runCase(ctx, vertexClient, c, "Vertex AI")
			results = append(results, r)
			fmt.Fprintf(os.Stderr, "    Vertex AI:   %dms\n", r.LatencyMs)
		}
		if openrouterClient != nil {
			r := runCase(ctx, openrouterClient, c, "OpenRouter")
			results = append(results, r)
			fmt.Fprintf(os.Stderr, "    OpenRouter:  %dms\n", r.LatencyMs)
		}
	}

	printReport(results)
}

func runCase(ctx context.Context, client llmComponent, c benchCase, provider string) benchResult {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	var err error
	switch c.Operation {
	case "rescore":
		_, err = client.ScoreBatch(ctx, c.Query, c.Texts)
	case "summarize":
		_, err = client.Summarize(ctx, c.Texts[0], 200)
	default:
		err = fmt.Errorf("unknown operation %q", c.Operation)
	}
	latency := time.Since(start)

	var errStr string
	if err != nil {
		errStr = err.Error()
	}
	return benchResult{CaseID: c.ID, Provider: provider, LatencyMs: latency.Milliseconds(), Error: errStr}
}

func printReport(results []benchResult) {
	now := time.Now().Format("2006-01-02 15:04 MST")

	hasVertex := hasProvider(results, "Vertex AI")
	hasOR := hasProvider(results, "OpenRouter")

	fmt.Println("# Model Routing Benchmark: Reranker & Synthesizer LLM Calls")
	fmt.Println()
	fmt.Printf("**Date:** %s\n", now)
	fmt.Println("**Model:** Gemini 2.5 Flash")
	if hasVertex && hasOR {
		fmt.Println("**Providers:** Vertex AI vs OpenRouter")
	} else if hasVertex {
		fmt.Println("**Providers:** Vertex AI — OpenRouter not tested (no API key)")
	} else {
		fmt.Println("**Providers:** OpenRouter — Vertex AI not tested (no GCP credentials)")
	}
	fmt.Println()
	fmt.Println("---")
	fmt.Println()

	fmt.Println("## Per-Case Results")
	fmt.Println()
	fmt.Println("| # | Operation | Vertex Latency | OR Latency | Winner |")
	fmt.Println("|---|-----------|-----------------|------------|--------|")

	for _, c := range cases {
		var vr, or benchResult
		var vrTested, orTested bool
		for _, r := range results {
			if r.CaseID == c.ID && r.Provider == "Vertex AI" {
				vr = r
				vrTested = true
			}
			if r.CaseID == c.ID && r.Provider == "OpenRouter" {
				or = r
				orTested = true
			}
		}

		winner := "—"
		if vrTested && orTested && vr.Error == "" && or.Error == "" {
			if vr.LatencyMs < or.LatencyMs {
				winner = "Vertex AI"
			} else if or.LatencyMs < vr.LatencyMs {
				winner = "OpenRouter"
			} else {
				winner = "Tie"
			}
		}

		vLat := fmtResult(vr.LatencyMs, vr.Error, vrTested)
		oLat := fmtResult(or.LatencyMs, or.Error, orTested)

		fmt.Printf("| %d | %s | %s | %s | %s |\n", c.ID, c.Operation, vLat, oLat, winner)
	}

	fmt.Println()
	fmt.Println("---")
	fmt.Println()

	fmt.Println("## Summary Statistics")
	fmt.Println()

	vertexLatencies := collectLatencies(results, "Vertex AI")
	orLatencies := collectLatencies(results, "OpenRouter")

	fmt.Println("| Metric | Vertex AI | OpenRouter |")
	fmt.Println("|--------|-----------|------------|")
	fmt.Printf("| Avg Latency | %s | %s |\n", fmtStat(vertexLatencies, avg, hasVertex), fmtStat(orLatencies, avg, hasOR))
	fmt.Printf("| P50 Latency | %s | %s |\n", fmtPercentileStat(vertexLatencies, 50, hasVertex), fmtPercentileStat(orLatencies, 50, hasOR))
	fmt.Printf("| P95 Latency | %s | %s |\n", fmtPercentileStat(vertexLatencies, 95, hasVertex), fmtPercentileStat(orLatencies, 95, hasOR))
	fmt.Printf("| Min Latency | %s | %s |\n", fmtStat(vertexLatencies, minVal, hasVertex), fmtStat(orLatencies, minVal, hasOR))
	fmt.Printf("| Max Latency | %s | %s |\n", fmtStat(vertexLatencies, maxVal, hasVertex), fmtStat(orLatencies, maxVal, hasOR))
	vErrCount := countErrors(results, "Vertex AI")
	oErrCount := countErrors(results, "OpenRouter")
	fmt.Printf("| Errors | %s | %s |\n", fmtErrorCount(vErrCount, hasVertex, len(cases)), fmtErrorCount(oErrCount, hasOR, len(cases)))

	fmt.Println()
	fmt.Println("---")
	fmt.Println()

	fmt.Println("## Recommendation")
	fmt.Println()

	if !hasVertex || !hasOR {
		fmt.Println("**Incomplete comparison** — only one provider was tested. Re-run with both")
		fmt.Println("`OPENROUTER_API_KEY` and GCP credentials to get a full comparison.")
		if hasVertex {
			fmt.Println()
			fmt.Printf("Vertex AI baseline latency: avg %dms, P50 %dms, P95 %dms.\n",
				avg(vertexLatencies), percentile(vertexLatencies, 50), percentile(vertexLatencies, 95))
		}
	} else {
		vAvg := avg(vertexLatencies)
		oAvg := avg(orLatencies)

		if vErrCount > 0 && oErrCount > 0 {
			fmt.Println("Both providers had errors during testing. Manual investigation needed.")
		} else if vErrCount > 0 {
			fmt.Println("**OpenRouter** — Vertex AI had errors during testing.")
		} else if oErrCount > 0 {
			fmt.Println("**Vertex AI** — OpenRouter had errors during testing.")
		} else {
			diff := float64(vAvg-oAvg) / float64(vAvg) * 100
			absDiff := math.Abs(diff)

			if absDiff < 10 {
				fmt.Printf("**Stay Vertex AI** — difference is negligible (%.0f%%). Vertex AI offers lower operational complexity (no external API key, no egress costs, GCP-native IAM).\n", absDiff)
			} else if diff > 0 {
				fmt.Printf("**Consider OpenRouter** — %dms avg latency improvement (%.0f%% faster). Evaluate: egress costs, API key management, availability SLA.\n", vAvg-oAvg, diff)
			} else {
				fmt.Printf("**Stay Vertex AI** — Vertex AI is %dms faster avg latency (%.0f%% faster). Lower operational complexity, no external dependency.\n", oAvg-vAvg, absDiff)
			}
		}
	}
}

func hasProvider(results []benchResult, provider string) bool {
	for _, r := range results {
		if r.Provider == provider {
			return true
		}
	}
	return false
}

func fmtResult(ms int64, errStr string, tested bool) string {
	if !tested {
		return "—"
	}
	if errStr != "" {
		return "ERROR"
	}
	return fmt.Sprintf("%dms", ms)
}

func fmtStat(vals []int64, fn func([]int64) int64, tested bool) string {
	if !tested {
		return "—"
	}
	return fmt.Sprintf("%dms", fn(vals))
}

func fmtPercentileStat(vals []int64, p float64, tested bool) string {
	if !tested {
		return "—"
	}
	return fmt.Sprintf("%dms", percentile(vals, p))
}

func fmtErrorCount(count int, tested bool, total int) string {
	if !tested {
		return "—"
	}
	return fmt.Sprintf("%d/%d", count, total)
}

func collectLatencies(results []benchResult, provider string) []int64 {
	var vals []int64
	for _, r := range results {
		if r.Provider == provider && r.Error == "" {
			vals = append(vals, r.LatencyMs)
		}
	}
	return vals
}

func countErrors(results []benchResult, provider string) int {
	var count int
	for _, r := range results {
		if r.Provider == provider && r.Error != "" {
			count++
		}
	}
	return count
}

func avg(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	var sum int64
	for _, v := range vals {
		sum += v
	}
	return sum / int64(len(vals))
}

func percentile(vals []int64, p float64) int64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]int64, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minVal(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxVal(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
