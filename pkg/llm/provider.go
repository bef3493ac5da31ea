// Package llm provides abstractions for LLM provider integration.
//
// Pilot uses a provider in two places: the plan executor asks it for an
// ordered list of steps, and the browser engine adapter asks it to turn a
// natural-language instruction into a script for the active page.
//
// Example usage:
//
//	provider, err := openai.NewProvider(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := provider.StreamCompletion(ctx, []*types.Message{
//	    types.NewUserMessage("Open the pricing page"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for chunk := range stream {
//	    if chunk.IsError() {
//	        log.Fatal(chunk.Error)
//	    }
//	    fmt.Print(chunk.Content)
//	}
package llm

import (
	"context"
	"strings"

	"github.com/entrhq/pilot/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers only deal with transport and streaming. Prompt construction and
// interpretation of the output belong to the caller.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response chunks.
	//
	// The channel is closed when streaming completes or an error occurs.
	// Stream-time errors are delivered as chunks with Error set; the returned
	// error is only non-nil when the stream could not be started.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}

// ModelCloner is implemented by providers that can cheaply target another
// model with the same credentials and transport.
type ModelCloner interface {
	CloneWithModel(model string) Provider
}

// WithModel returns a provider for the given model when p supports cloning
// and model is non-empty; otherwise p is returned unchanged.
func WithModel(p Provider, model string) Provider {
	if model == "" {
		return p
	}
	if cloner, ok := p.(ModelCloner); ok {
		return cloner.CloneWithModel(model)
	}
	return p
}

// Collect drains a stream and returns the concatenated content.
// The first error chunk aborts collection.
func Collect(ctx context.Context, stream <-chan *StreamChunk) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return b.String(), nil
			}
			if chunk.IsError() {
				return b.String(), chunk.Error
			}
			b.WriteString(chunk.Content)
		}
	}
}
