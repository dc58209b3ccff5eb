package channel

import "github.com/ent0n29/prepvoice/internal/protocol"

// Each registration replaces the previous handler for that event kind and reports
// whether one was replaced. A nil fn clears the slot.

func (c *Channel) OnMessage(fn func(protocol.AIResponse)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onMessage != nil
	c.onMessage = fn
	return replaced
}

func (c *Channel) OnStreamStart(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onStreamStart != nil
	c.onStreamStart = fn
	return replaced
}

func (c *Channel) OnStreamChunk(fn func(text string)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onStreamChunk != nil
	c.onStreamChunk = fn
	return replaced
}

func (c *Channel) OnStreamEnd(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onStreamEnd != nil
	c.onStreamEnd = fn
	return replaced
}

func (c *Channel) OnCompletionStarted(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onCompletionStarted != nil
	c.onCompletionStarted = fn
	return replaced
}

func (c *Channel) OnInterviewCompleted(fn func(protocol.InterviewCompleted)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onInterviewCompleted != nil
	c.onInterviewCompleted = fn
	return replaced
}

// OnDisconnect fires when the transport drops without a Disconnect call.
func (c *Channel) OnDisconnect(fn func(err error)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := c.onDisconnect != nil
	c.onDisconnect = fn
	return replaced
}
