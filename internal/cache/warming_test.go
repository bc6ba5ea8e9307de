package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubPrefetcher struct {
	metaErr   error
	latestErr error

	mu        sync.Mutex
	metaCalls int
	latestIDs [][]int
	runs      atomic.Int32
}

func (s *stubPrefetcher) WarmMetadata(ctx context.Context) error {
	s.mu.Lock()
	s.metaCalls++
	s.mu.Unlock()
	s.runs.Add(1)
	return s.metaErr
}

func (s *stubPrefetcher) WarmLatest(ctx context.Context, ids []int) error {
	s.mu.Lock()
	s.latestIDs = append(s.latestIDs, ids)
	s.mu.Unlock()
	return s.latestErr
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	f := &stubPrefetcher{}
	w := NewCacheWarmer(f, nil, 0)

	if err := w.Warm(context.Background(), []int{2178, 8118}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if f.metaCalls != 1 || len(f.latestIDs) != 1 || len(f.latestIDs[0]) != 2 {
		t.Errorf("calls: metadata=%d latest=%v", f.metaCalls, f.latestIDs)
	}
}

func TestCacheWarmer_Warm_NoLocationsSkipsLatest(t *testing.T) {
	f := &stubPrefetcher{}
	w := NewCacheWarmer(f, nil, 0)

	if err := w.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v", err)
	}
	if f.metaCalls != 1 || len(f.latestIDs) != 0 {
		t.Errorf("calls: metadata=%d latest=%v, want 1 and none", f.metaCalls, f.latestIDs)
	}
}

func TestCacheWarmer_Warm_JoinsErrors(t *testing.T) {
	metaErr := errors.New("countries down")
	latestErr := errors.New("latest down")
	w := NewCacheWarmer(&stubPrefetcher{metaErr: metaErr, latestErr: latestErr}, nil, 0)

	err := w.Warm(context.Background(), []int{1})
	if !errors.Is(err, metaErr) || !errors.Is(err, latestErr) {
		t.Fatalf("Warm() error = %v, want both failures", err)
	}
}

func TestCacheWarmer_StartStop(t *testing.T) {
	f := &stubPrefetcher{}
	w := NewCacheWarmer(f, nil, time.Second)

	if err := w.Start([]int{1}, 20*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start([]int{1}, time.Second); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
	if f.runs.Load() < 2 {
		t.Fatalf("scheduled runs = %d, want >= 2", f.runs.Load())
	}
	w.Stop()
}

func TestCacheWarmer_StartRejectsBadInterval(t *testing.T) {
	w := NewCacheWarmer(&stubPrefetcher{}, nil, 0)
	if err := w.Start(nil, 0); err == nil {
		t.Error("Start(0) error = nil, want error")
	}
}
