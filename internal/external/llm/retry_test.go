package llm

import (
	"context"
	"testing"
	"time"

	cferrors "codeforge/internal/shared/errors"
)

type fakeClient struct {
	calls   int
	errs    []error
	results []string
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var result string
	if i < len(f.results) {
		result = f.results[i]
	}
	return result, err
}

func newBreaker() *cferrors.CircuitBreaker {
	return cferrors.NewCircuitBreaker("test-llm", cferrors.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
	})
}

func TestRetryClient_SucceedsOnFirstAttempt(t *testing.T) {
	fake := &fakeClient{results: []string{"ok"}}
	client := NewRetryClient(fake, RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, newBreaker(), nil)

	got, err := client.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected %q, got %q", "ok", got)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
}

func TestRetryClient_RetriesUpstreamUnavailable(t *testing.T) {
	upstreamErr := cferrors.New(cferrors.KindUpstreamUnavailable, "timeout")
	fake := &fakeClient{
		errs:    []error{upstreamErr, upstreamErr, nil},
		results: []string{"", "", "recovered"},
	}
	client := NewRetryClient(fake, RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, newBreaker(), nil)

	got, err := client.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("expected %q, got %q", "recovered", got)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fake.calls)
	}
}

func TestRetryClient_DoesNotRetryNonUpstreamErrors(t *testing.T) {
	validationErr := cferrors.New(cferrors.KindValidationFailure, "bad request")
	fake := &fakeClient{errs: []error{validationErr}}
	client := NewRetryClient(fake, RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, newBreaker(), nil)

	_, err := client.Complete(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !cferrors.Is(err, cferrors.KindValidationFailure) {
		t.Fatalf("expected KindValidationFailure, got %v", cferrors.KindOf(err))
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly 1 call (no retry), got %d", fake.calls)
	}
}

func TestRetryClient_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	upstreamErr := cferrors.New(cferrors.KindUpstreamUnavailable, "down")
	fake := &fakeClient{errs: []error{upstreamErr, upstreamErr, upstreamErr}}
	client := NewRetryClient(fake, RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, newBreaker(), nil)

	_, err := client.Complete(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fake.calls)
	}
}

func TestRetryClient_RespectsContextCancellation(t *testing.T) {
	upstreamErr := cferrors.New(cferrors.KindUpstreamUnavailable, "down")
	fake := &fakeClient{errs: []error{upstreamErr, upstreamErr}}
	client := NewRetryClient(fake, RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond}, newBreaker(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, "sys", "user")
	if err == nil {
		t.Fatal("expected an error")
	}
}
