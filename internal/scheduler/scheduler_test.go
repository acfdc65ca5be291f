package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdigest/internal/model"
	"newsdigest/internal/monitoring"
)

type fakeRunner struct {
	rec model.RunRecord
	err error
}

func (f *fakeRunner) Run(ctx context.Context, windowHours, topN int, skipEmail bool) (model.RunRecord, error) {
	return f.rec, f.err
}

func TestRunOnceRecordsSuccess(t *testing.T) {
	m := monitoring.New(nil)
	s := New(&fakeRunner{rec: model.RunRecord{RunID: 1, State: model.RunDone, Counters: model.StageCounters{Scraped: 2, Ranked: 2}}},
		Config{Schedule: "@every 1h", WindowHours: 24, TopN: 5}, m, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !m.Healthy() {
		t.Fatal("expected healthy after a successful run")
	}
}

func TestRunOnceRecordsAdvisoryOnPartialFailure(t *testing.T) {
	m := monitoring.New(nil)
	rec := model.RunRecord{RunID: 2, State: model.RunDone, Counters: model.StageCounters{FailedAdapters: []string{"broken-feed"}}}
	s := New(&fakeRunner{rec: rec}, Config{Schedule: "@every 1h"}, m, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !m.Healthy() {
		t.Fatal("expected an advisory failure to stay healthy")
	}
}

func TestRunOnceRecordsFailure(t *testing.T) {
	m := monitoring.New(nil)
	s := New(&fakeRunner{err: errors.New("config error")}, Config{Schedule: "@every 1h"}, m, nil)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to surface the runner's error")
	}
	if m.Healthy() {
		t.Fatal("expected unhealthy after a failed run")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	m := monitoring.New(nil)
	s := New(&fakeRunner{rec: model.RunRecord{State: model.RunDone}}, Config{Schedule: "@every 1h"}, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx); err == nil {
		t.Fatal("expected Start to return the context's cancellation error")
	}
}
