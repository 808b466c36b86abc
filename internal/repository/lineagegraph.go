package repository

import (
	"context"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/connexus-ai/ragcore/internal/model"
)

// LineageGraph mirrors chunk provenance into Neo4j: chunk -[:DERIVED_FROM]->
// document at ingestion, chunk -[:RETRIEVED_BY]-> query at retrieval time.
// The relational rag_chunk_lineage table stays the source of truth; this is
// an optional sink for graph-shaped queries (relatedChunks) the relational
// store can't answer efficiently. A nil or failing driver never fails the
// caller — every method logs and returns.
type LineageGraph struct {
	driver neo4j.DriverWithContext
}

// NewLineageGraph wraps an already-connected Neo4j driver. Pass a nil driver
// to disable mirroring entirely.
func NewLineageGraph(driver neo4j.DriverWithContext) *LineageGraph {
	return &LineageGraph{driver: driver}
}

// MirrorIngestion creates one (Chunk)-[:DERIVED_FROM]->(Document) edge per
// lineage row.
func (g *LineageGraph) MirrorIngestion(ctx context.Context, lineage []model.ChunkLineage) {
	if g == nil || g.driver == nil || len(lineage) == 0 {
		return
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, l := range lineage {
		_, err := session.Run(ctx, `
			MERGE (c:Chunk {id: $chunkID})
			MERGE (d:Document {id: $documentID})
			MERGE (c)-[:DERIVED_FROM]->(d)`,
			map[string]any{"chunkID": l.ChunkID, "documentID": l.DocumentID})
		if err != nil {
			slog.Warn("[LINEAGE-GRAPH] ingestion mirror failed", "chunk_id", l.ChunkID, "error", err)
		}
	}
}

// MirrorRetrieval creates one (Chunk)-[:RETRIEVED_BY]->(Query) edge per
// chunk returned for traceID.
func (g *LineageGraph) MirrorRetrieval(ctx context.Context, traceID, chunkID string) {
	if g == nil || g.driver == nil {
		return
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (c:Chunk {id: $chunkID})
		MERGE (q:Query {traceId: $traceID})
		MERGE (c)-[:RETRIEVED_BY]->(q)`,
		map[string]any{"chunkID": chunkID, "traceID": traceID})
	if err != nil {
		slog.Warn("[LINEAGE-GRAPH] retrieval mirror failed", "chunk_id", chunkID, "trace_id", traceID, "error", err)
	}
}

// Close releases the underlying driver.
func (g *LineageGraph) Close(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}
