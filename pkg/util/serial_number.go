package utils

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// SerialNumberGenerator hands out request serial numbers. Numbers start at the
// creation time in milliseconds so they stay unique across process restarts.
type SerialNumberGenerator struct {
	mut  sync.Mutex
	base int64
	next int64
}

func CreateSerialNumberGenerator(seed int64) *SerialNumberGenerator {
	return &SerialNumberGenerator{
		mut:  sync.Mutex{},
		base: seed,
	}
}

func CreateTimeSeededSerialNumberGenerator() *SerialNumberGenerator {
	return CreateSerialNumberGenerator(time.Now().UnixMilli())
}

func (g *SerialNumberGenerator) Next() int64 {
	g.mut.Lock()
	defer g.mut.Unlock()

	n := g.base + g.next
	g.next++
	return n
}

// NewConnectionId returns a short id used to tell connections apart in logs.
func NewConnectionId() string {
	id := shortuuid.New()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
