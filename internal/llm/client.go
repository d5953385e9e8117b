package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

const (
	DefaultTemperature   = 0.6
	DefaultContextWindow = 2048
	DefaultTimeout       = 180 * time.Second

	warmUpPrompt  = "hello"
	warmUpTokens  = 5
	warmUpTimeout = 30 * time.Second
)

// Request is a single non-streaming completion call.
type Request struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	ContextWindow int
}

// Backend performs one completion against a concrete inference service.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// ModelError is returned when a completion failed after the permitted retry.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model request failed: %v", e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Client applies the timeout and retry policy on top of a Backend.
type Client struct {
	backend       Backend
	timeout       time.Duration
	temperature   float64
	contextWindow int
}

func NewClient(backend Backend, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		backend:       backend,
		timeout:       timeout,
		temperature:   DefaultTemperature,
		contextWindow: DefaultContextWindow,
	}
}

func (c *Client) Model() string {
	return c.backend.Model()
}

// Complete sends prompt and returns the raw completion text. A timed-out
// attempt is retried once with 70% of the output budget; every other failure
// is returned immediately as a *ModelError.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	text, err := c.attempt(ctx, prompt, maxTokens, c.timeout)
	if err == nil {
		return text, nil
	}
	if !isTimeout(err) || ctx.Err() != nil {
		log.Printf("llm: completion failed: %v", err)
		return "", &ModelError{Err: err}
	}

	reduced := maxTokens * 7 / 10
	log.Printf("llm: completion timed out, retrying with %d tokens", reduced)
	text, err = c.attempt(ctx, prompt, reduced, c.timeout)
	if err != nil {
		log.Printf("llm: retry failed: %v", err)
		return "", &ModelError{Err: err}
	}
	return text, nil
}

// WarmUp issues a tiny request so the model is loaded before the first real
// call. Failures are logged and otherwise ignored.
func (c *Client) WarmUp(ctx context.Context) {
	log.Printf("llm: warming up model %s", c.backend.Model())
	if _, err := c.attempt(ctx, warmUpPrompt, warmUpTokens, warmUpTimeout); err != nil {
		log.Printf("llm: warm-up failed: %v", err)
		return
	}
	log.Printf("llm: model %s ready", c.backend.Model())
}

func (c *Client) attempt(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.backend.Generate(attemptCtx, Request{
		Prompt:        prompt,
		MaxTokens:     maxTokens,
		Temperature:   c.temperature,
		ContextWindow: c.contextWindow,
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
