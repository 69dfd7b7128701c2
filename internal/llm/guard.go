package llm

import (
	"context"

	"github.com/civicmesh/civicmesh/internal/resilience"
)

// GuardedClient wraps a Client with a circuit breaker so that a failing
// provider sheds load quickly instead of queueing timeouts.
type GuardedClient struct {
	client  Client
	breaker *resilience.Breaker
}

// Guard wraps client with breaker.
func Guard(client Client, breaker *resilience.Breaker) *GuardedClient {
	return &GuardedClient{client: client, breaker: breaker}
}

func (g *GuardedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := g.breaker.Execute(ctx, func() error {
		var callErr error
		resp, callErr = g.client.Complete(ctx, req)
		return callErr
	})
	return resp, err
}

func (g *GuardedClient) StreamChat(ctx context.Context, req StreamRequest, emit func(StreamEvent) error) error {
	return g.breaker.Execute(ctx, func() error {
		return g.client.StreamChat(ctx, req, emit)
	})
}
