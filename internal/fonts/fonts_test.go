package fonts

import (
	"fmt"
	"testing"
)

type stubHandle struct {
	name string
	size float64
}

func (h stubHandle) Name() string  { return h.name }
func (h stubHandle) Size() float64 { return h.size }

func TestCachingResolverMemoizes(t *testing.T) {
	loads := 0
	r := NewCachingResolver(func(name string, size float64) (Handle, error) {
		loads++
		return stubHandle{name: name, size: size}, nil
	})

	h, err := r.Resolve("Noto Sans JP", 16)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h.Name() != "Noto Sans JP" || h.Size() != 16 {
		t.Errorf("handle = %q/%g", h.Name(), h.Size())
	}
	if _, err := r.Resolve("Noto Sans JP", 16); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loads != 1 {
		t.Errorf("loader ran %d times, want 1", loads)
	}

	if _, err := r.Resolve("Noto Sans JP", 24); err != nil {
		t.Fatalf("Resolve at new size: %v", err)
	}
	if loads != 2 {
		t.Errorf("loader ran %d times after size change, want 2", loads)
	}
}

func TestCachingResolverDoesNotCacheFailures(t *testing.T) {
	fail := true
	r := NewCachingResolver(func(name string, size float64) (Handle, error) {
		if fail {
			return nil, fmt.Errorf("font not installed")
		}
		return stubHandle{name: name, size: size}, nil
	})

	if _, err := r.Resolve("Missing Font", 16); err == nil {
		t.Fatal("expected resolution failure")
	}

	// Font installed later must resolve on retry.
	fail = false
	if _, err := r.Resolve("Missing Font", 16); err != nil {
		t.Errorf("retry after install failed: %v", err)
	}
}
