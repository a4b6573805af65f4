package airesponder

import (
	"context"

	"github.com/rs/zerolog/log"
)

// CustomProvider delegates to a caller-supplied completion function. It
// lets deployments plug in an in-house model or a stub without touching
// the responder pipeline.
type CustomProvider struct {
	Fn CustomFunc
}

// Generate invokes the configured function. A nil function is logged and
// yields no reply.
func (p *CustomProvider) Generate(ctx context.Context, turns []Turn) (string, error) {
	if p.Fn == nil {
		log.Warn().Msg("custom ai provider has no handler; skipping ai reply")
		return "", nil
	}
	return p.Fn(ctx, turns)
}
