package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedBackend struct {
	results []error
	text    string
	budgets []int
	temps   []float64
}

func (b *scriptedBackend) Model() string { return "test-model" }

func (b *scriptedBackend) Generate(ctx context.Context, req Request) (string, error) {
	b.budgets = append(b.budgets, req.MaxTokens)
	b.temps = append(b.temps, req.Temperature)
	i := len(b.budgets) - 1
	if i < len(b.results) && b.results[i] != nil {
		return "", b.results[i]
	}
	return b.text, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCompleteRetriesOnceOnTimeout(t *testing.T) {
	backend := &scriptedBackend{results: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	client := NewClient(backend, time.Second)

	_, err := client.Complete(context.Background(), "prompt", 300)

	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if len(backend.budgets) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", len(backend.budgets))
	}
	if backend.budgets[0] != 300 || backend.budgets[1] != 210 {
		t.Errorf("unexpected token budgets %v", backend.budgets)
	}
}

func TestCompleteRetrySucceeds(t *testing.T) {
	backend := &scriptedBackend{results: []error{timeoutErr{}}, text: "answer"}
	client := NewClient(backend, time.Second)

	text, err := client.Complete(context.Background(), "prompt", 1500)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "answer" {
		t.Errorf("unexpected text %q", text)
	}
	if len(backend.budgets) != 2 || backend.budgets[1] != 1050 {
		t.Errorf("unexpected token budgets %v", backend.budgets)
	}
}

func TestCompleteDoesNotRetryOtherErrors(t *testing.T) {
	cause := errors.New("connection refused")
	backend := &scriptedBackend{results: []error{cause}}
	client := NewClient(backend, time.Second)

	_, err := client.Complete(context.Background(), "prompt", 200)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if len(backend.budgets) != 1 {
		t.Errorf("expected a single call, got %d", len(backend.budgets))
	}
}

func TestCompleteSkipsRetryWhenCallerCancelled(t *testing.T) {
	backend := &scriptedBackend{results: []error{context.DeadlineExceeded}}
	client := NewClient(backend, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Complete(ctx, "prompt", 200); err == nil {
		t.Fatal("expected error")
	}
	if len(backend.budgets) != 1 {
		t.Errorf("expected no retry after caller cancellation, got %d calls", len(backend.budgets))
	}
}

func TestCompleteUsesSamplingDefaults(t *testing.T) {
	backend := &scriptedBackend{text: "ok"}
	client := NewClient(backend, 0)

	if _, err := client.Complete(context.Background(), "prompt", 250); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if backend.temps[0] != DefaultTemperature {
		t.Errorf("expected temperature %v, got %v", DefaultTemperature, backend.temps[0])
	}
	if client.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", client.timeout)
	}
}

func TestWarmUpSwallowsErrors(t *testing.T) {
	backend := &scriptedBackend{results: []error{errors.New("model not loaded")}}
	client := NewClient(backend, time.Second)

	client.WarmUp(context.Background())

	if len(backend.budgets) != 1 || backend.budgets[0] != warmUpTokens {
		t.Errorf("expected one warm-up call with %d tokens, got %v", warmUpTokens, backend.budgets)
	}
}
