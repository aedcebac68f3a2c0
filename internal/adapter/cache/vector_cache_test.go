package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"clinrag/internal/domain"
)

type countingEncoder struct {
	calls [][]string
	err   error
}

func (e *countingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEncoder) Descriptor() domain.EncoderDescriptor {
	return domain.EncoderDescriptor{Type: "counting", EmbeddingDim: 1}
}

func TestVectorCache_GetPut(t *testing.T) {
	c := NewVectorCache(2, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("a", []float32{1})
	v, ok := c.Get("a")
	if !ok || v[0] != 1 {
		t.Fatalf("expected hit with [1], got %v %v", v, ok)
	}
}

func TestVectorCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewVectorCache(2, time.Minute)

	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Get("a") // a is now most recent
	c.Put("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive")
	}
	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
}

func TestVectorCache_TTL(t *testing.T) {
	c := NewVectorCache(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("a", []float32{1})
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Errorf("expected expired entry to be removed, size %d", c.Size())
	}
}

func TestVectorCache_Invalidate(t *testing.T) {
	c := NewVectorCache(10, time.Minute)
	c.Put("a", []float32{1})
	c.Invalidate()
	if c.Size() != 0 {
		t.Errorf("expected empty cache, got %d", c.Size())
	}
}

func TestCachedEncoder_OnlyEncodesMisses(t *testing.T) {
	inner := &countingEncoder{}
	enc := NewCachedEncoder(inner, NewVectorCache(10, time.Minute))

	if _, err := enc.Encode(context.Background(), []string{"aa"}); err != nil {
		t.Fatal(err)
	}
	got, err := enc.Encode(context.Background(), []string{"aa", "bbb"})
	if err != nil {
		t.Fatal(err)
	}

	expected := [][]float32{{2}, {3}}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
	if len(inner.calls) != 2 || !reflect.DeepEqual(inner.calls[1], []string{"bbb"}) {
		t.Errorf("expected second call to encode only the miss, calls=%v", inner.calls)
	}
}

func TestCachedEncoder_PropagatesErrors(t *testing.T) {
	inner := &countingEncoder{err: errors.New("down")}
	enc := NewCachedEncoder(inner, NewVectorCache(10, time.Minute))

	if _, err := enc.Encode(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
	if enc.Descriptor().Type != "counting" {
		t.Error("expected descriptor passthrough")
	}
}
