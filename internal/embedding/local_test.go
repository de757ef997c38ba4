package embedding

import (
	"context"
	"math"
	"testing"
)

func TestLocalEmbedDeterministic(t *testing.T) {
	l := NewLocal(128)
	a, err := l.Embed(context.Background(), "database connection pooling")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := l.Embed(context.Background(), "database connection pooling")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedNormalized(t *testing.T) {
	l := NewLocal(128)
	vec, err := l.Embed(context.Background(), "some text to hash into buckets")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestLocalEmbedEmptyText(t *testing.T) {
	l := NewLocal(32)
	vec, err := l.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 32 {
		t.Fatalf("expected 32 dims, got %d", len(vec))
	}
	for _, f := range vec {
		if f != 0 {
			t.Fatalf("empty text should embed to the zero vector, got %v", vec)
		}
	}
}

func TestLocalDimsDefault(t *testing.T) {
	if got := NewLocal(0).Dims(); got != DefaultDims {
		t.Fatalf("expected DefaultDims %d, got %d", DefaultDims, got)
	}
	if got := NewLocal(16).Dims(); got != 16 {
		t.Fatalf("expected 16, got %d", got)
	}
}

func TestLocalSimilarTextsShareBuckets(t *testing.T) {
	l := NewLocal(256)
	ctx := context.Background()
	a, _ := l.Embed(ctx, "sqlite database connection tuning")
	b, _ := l.Embed(ctx, "database connection tuning for sqlite")
	c, _ := l.Embed(ctx, "grocery shopping list apples")

	if dot(a, b) <= dot(a, c) {
		t.Fatalf("related texts should score higher: related=%v unrelated=%v", dot(a, b), dot(a, c))
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
