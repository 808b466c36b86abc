package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEmbedder struct {
	calls int32
	delay time.Duration
	vec   func(text string) []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.vec != nil {
			out[i] = f.vec(t)
		} else {
			out[i] = []float32{float32(len(t))}
		}
	}
	return out, nil
}

func TestCachingEmbedder_CachesAcrossCalls(t *testing.T) {
	inner := &fakeEmbedder{}
	ce := NewCachingEmbedder(inner, NewEmbeddingCache(time.Minute))

	if _, err := ce.Embed(context.Background(), []string{"what is rag"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ce.Embed(context.Background(), []string{"what is rag"}); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&inner.calls); got != 1 {
		t.Errorf("inner.calls = %d, want 1 (second call should be a cache hit)", got)
	}
}

func TestCachingEmbedder_PartialCacheHit(t *testing.T) {
	inner := &fakeEmbedder{}
	ce := NewCachingEmbedder(inner, NewEmbeddingCache(time.Minute))

	if _, err := ce.Embed(context.Background(), []string{"cached"}); err != nil {
		t.Fatal(err)
	}

	vecs, err := ce.Embed(context.Background(), []string{"cached", "fresh"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if got := atomic.LoadInt32(&inner.calls); got != 2 {
		t.Errorf("inner.calls = %d, want 2 (one for the miss batch)", got)
	}
}

func TestCachingEmbedder_CollapsesConcurrentDuplicates(t *testing.T) {
	inner := &fakeEmbedder{delay: 20 * time.Millisecond}
	ce := NewCachingEmbedder(inner, NewEmbeddingCache(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ce.Embed(context.Background(), []string{"same query"})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&inner.calls); got != 1 {
		t.Errorf("inner.calls = %d, want 1 (concurrent identical misses should collapse)", got)
	}
}
