package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("memory", "s-1")

	c.IncFilterCreated()
	c.IncFilterDestroyed()
	c.IncUpdateReceived()
	c.IncUpdateReceived()
	c.IncEmptyPoll()
	c.IncChangeApplied("enter")
	c.IncChangeApplied("modify")
	c.IncChangeApplied("modify")
	c.IncStaleVersion()
	c.IncRetry()
	c.IncRetry()
	c.IncRetry()
	c.IncWaitCompleted()
	c.IncWaitFailed()
	c.IncDecodeError()
	c.IncJournalWrite()
	c.IncJournalWrite()
	c.IncJournalFailure()
	c.IncPublishSuccess()
	c.IncPublishFailure()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"FiltersCreated", s.FiltersCreated, 1},
		{"FiltersDestroyed", s.FiltersDestroyed, 1},
		{"UpdatesReceived", s.UpdatesReceived, 2},
		{"EmptyPolls", s.EmptyPolls, 1},
		{"ChangesApplied", s.ChangesApplied, 3},
		{"ChangesByOp[modify]", s.ChangesByOp["modify"], 2},
		{"ChangesByOp[enter]", s.ChangesByOp["enter"], 1},
		{"StaleVersions", s.StaleVersions, 1},
		{"Retries", s.Retries, 3},
		{"WaitsCompleted", s.WaitsCompleted, 1},
		{"WaitsFailed", s.WaitsFailed, 1},
		{"DecodeErrors", s.DecodeErrors, 1},
		{"JournalWrites", s.JournalWrites, 2},
		{"JournalFailures", s.JournalFailures, 1},
		{"PublishSuccess", s.PublishSuccess, 1},
		{"PublishFailure", s.PublishFailure, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("soap", "s-42").Snapshot()
	if s.Backend != "soap" {
		t.Errorf("Backend = %q, want %q", s.Backend, "soap")
	}
	if s.SessionID != "s-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "s-42")
	}
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncFilterCreated()
	c.IncFilterDestroyed()
	c.IncUpdateReceived()
	c.IncEmptyPoll()
	c.IncChangeApplied("remove")
	c.IncStaleVersion()
	c.IncRetry()
	c.IncWaitCompleted()
	c.IncWaitFailed()
	c.IncDecodeError()
	c.IncJournalWrite()
	c.IncJournalFailure()
	c.IncPublishSuccess()
	c.IncPublishFailure()

	s := c.Snapshot()
	if s.ChangesApplied != 0 || s.ChangesByOp != nil {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("memory", "")
	c.IncChangeApplied("enter")

	s := c.Snapshot()
	c.IncChangeApplied("enter")
	s.ChangesByOp["enter"] = 99

	if got := c.Snapshot().ChangesByOp["enter"]; got != 2 {
		t.Errorf("collector map mutated through snapshot: %d", got)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("memory", "")
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncChangeApplied("modify")
				c.IncEmptyPoll()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ChangesApplied != 1600 || s.EmptyPolls != 1600 {
		t.Errorf("ChangesApplied = %d, EmptyPolls = %d, want 1600", s.ChangesApplied, s.EmptyPolls)
	}
}
