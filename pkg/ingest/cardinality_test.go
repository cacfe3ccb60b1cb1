package ingest

import (
	"fmt"
	"testing"
	"time"
)

func TestSourceTracker_KnownSourceAlwaysPasses(t *testing.T) {
	st := NewSourceTracker()
	st.Record("web-1", "api")

	if err := st.Check("web-1", "api"); err != nil {
		t.Fatalf("Check() on known source = %v", err)
	}

	stats := st.Stats()
	if stats.TotalSources != 1 || stats.UniqueHosts != 1 {
		t.Errorf("Stats() = %+v, want 1 source on 1 host", stats)
	}
}

func TestSourceTracker_RecordIsIdempotent(t *testing.T) {
	st := NewSourceTracker()
	for i := 0; i < 5; i++ {
		st.Record("web-1", "api")
	}
	if got := st.Stats().BusiestCount; got != 1 {
		t.Errorf("BusiestCount = %d, want 1", got)
	}
}

func TestSourceTracker_PerHostLimit(t *testing.T) {
	st := NewSourceTracker()
	for i := 0; i < MaxSourcesPerHost; i++ {
		st.Record("noisy", fmt.Sprintf("cat-%d", i))
	}

	if err := st.Check("noisy", "one-more"); err != ErrHostSourceLimit {
		t.Errorf("Check() = %v, want %v", err, ErrHostSourceLimit)
	}
	if err := st.Check("quiet", "one-more"); err != nil {
		t.Errorf("Check() for another host = %v, want nil", err)
	}

	stats := st.Stats()
	if stats.BusiestHost != "noisy" || stats.BusiestCount != MaxSourcesPerHost {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSourceTracker_ForgetsStaleSources(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewSourceTracker()
	st.now = func() time.Time { return now }
	st.lastCleanup = now

	st.Record("web-1", "api")
	st.Record("web-2", "db")

	now = now.Add(sourceRetentionPeriod + cleanupInterval)
	st.Record("web-2", "db")

	// Check triggers cleanup
	if err := st.Check("web-3", "x"); err != nil {
		t.Fatalf("Check() = %v", err)
	}

	stats := st.Stats()
	if stats.TotalSources != 1 || stats.UniqueHosts != 1 {
		t.Errorf("Stats() after cleanup = %+v, want only web-2/db", stats)
	}
}
