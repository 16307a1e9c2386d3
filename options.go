package expreplay

import (
	"math/rand"

	"github.com/rs/zerolog"
)

// Option configures a buffer at construction time.
type Option func(*Buffer)

// WithRand injects the random source used for sampling. The buffer
// serializes access to it, so the source itself need not be
// goroutine-safe. Without this option the buffer seeds its own source
// from the wall clock.
func WithRand(rng *rand.Rand) Option {
	return func(b *Buffer) {
		b.rng = rng
	}
}

// WithSeed is shorthand for WithRand(rand.New(rand.NewSource(seed))),
// giving reproducible sampling.
func WithSeed(seed int64) Option {
	return WithRand(rand.New(rand.NewSource(seed)))
}

// WithLogger attaches a logger. The default is zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// WithID overrides the generated buffer ID. Checkpoint stores key
// snapshots on it.
func WithID(id string) Option {
	return func(b *Buffer) {
		if id != "" {
			b.id = id
		}
	}
}
