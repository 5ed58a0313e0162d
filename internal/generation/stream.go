package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// chunkBuffer collects streamed fragments for one attempt. Fragments arriving
// after ctx is done are dropped.
type chunkBuffer struct {
	ctx context.Context
	mu  sync.Mutex
	b   strings.Builder
	n   int
}

func newChunkBuffer(ctx context.Context) *chunkBuffer {
	return &chunkBuffer{ctx: ctx}
}

func (c *chunkBuffer) add(fragment string) {
	if c.ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b.WriteString(fragment)
	c.n++
}

// text reconciles the fragments with the backend's final text. The final text
// wins when both exist and disagree; fragments cover backends that only stream.
func (c *chunkBuffer) text(final string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	streamed := c.b.String()
	switch {
	case final == "":
		return streamed
	case streamed != "" && streamed != final:
		slog.Warn("Streamed fragments differ from final response",
			"fragments", c.n,
			"streamed_length", len(streamed),
			"final_length", len(final),
		)
	}
	return final
}
