package workflow

import (
	"context"
	"time"

	"sectional_blog_writer/generator"
)

// TimeoutGenerator bounds each remote call with its own deadline so one slow
// section cannot stall a run indefinitely. Zero durations mean no limit.
type TimeoutGenerator struct {
	Generator      Generator
	OutlineTimeout time.Duration
	SectionTimeout time.Duration
}

func (g TimeoutGenerator) GenerateOutline(ctx context.Context, req generator.OutlineRequest) (generator.Outline, error) {
	if g.OutlineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.OutlineTimeout)
		defer cancel()
	}
	return g.Generator.GenerateOutline(ctx, req)
}

func (g TimeoutGenerator) GenerateSection(ctx context.Context, req generator.SectionRequest) (string, error) {
	if g.SectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.SectionTimeout)
		defer cancel()
	}
	return g.Generator.GenerateSection(ctx, req)
}
