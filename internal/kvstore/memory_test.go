package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	value := []byte("original")
	if err := s.Set(ctx, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "original" {
		t.Fatalf("returned value aliased stored buffer: %s", again)
	}
}

func TestMemoryConcurrentWriters(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", n%10)
			_ = s.Set(ctx, key, []byte{byte(n)})
			_, _ = s.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if s.Len() != 10 {
		t.Fatalf("expected 10 keys, got %d", s.Len())
	}
}
