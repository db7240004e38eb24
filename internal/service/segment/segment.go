package segment

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces listen-window identifiers.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

// Next returns a unique identifier for a new listen window on callId.
func (g *Generator) Next(callId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-utt-%d-%s", callId, n, uuid.NewString()[:8])
}

// Count returns how many identifiers have been issued.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
