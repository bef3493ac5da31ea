package llm

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	// Error is set when the stream failed. No further chunks follow an error chunk.
	Error error

	// Role is set on the first chunk of a response.
	Role string

	// Content is the text delta carried by this chunk.
	Content string

	// Finished marks the final chunk.
	Finished bool
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// IsLast reports whether no further chunks follow.
func (c *StreamChunk) IsLast() bool {
	return c != nil && (c.Finished || c.Error != nil)
}
