package worker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
)

func TestDispatchExactAndScannerPrefix(t *testing.T) {
	p := New(nil, nil, Config{WorkerCount: 1}, zerolog.Nop())

	pipelineCalled := false
	p.On(domain.JobPipeline, func(ctx context.Context, job *domain.Job) error {
		pipelineCalled = true
		return nil
	})

	scannerCalled := false
	p.OnScanner(func(ctx context.Context, job *domain.Job) error {
		scannerCalled = true
		return nil
	})

	if h := p.dispatch(domain.JobPipeline); h == nil {
		t.Fatal("expected pipeline handler registered")
	} else {
		_ = h(context.Background(), &domain.Job{})
		if !pipelineCalled {
			t.Error("expected pipeline handler to run")
		}
	}

	if h := p.dispatch(domain.ScannerJobType("nmap")); h == nil {
		t.Fatal("expected scanner handler for scanner:nmap")
	} else {
		_ = h(context.Background(), &domain.Job{})
		if !scannerCalled {
			t.Error("expected scanner handler to run")
		}
	}

	if h := p.dispatch(domain.JobType("unregistered")); h != nil {
		t.Error("expected nil handler for unregistered job type")
	}
}

func TestNewDefaultsWorkerCountAndBackoff(t *testing.T) {
	p := New(nil, nil, Config{}, zerolog.Nop())
	if p.cfg.WorkerCount != 4 {
		t.Errorf("expected default worker count 4, got %d", p.cfg.WorkerCount)
	}
	if p.cfg.BackoffBase != domain.DefaultBackoffBase {
		t.Errorf("expected default backoff base, got %v", p.cfg.BackoffBase)
	}
}
