package models

import (
	"context"
	"io"

	"github.com/rickchristie/relay"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

// Traced wraps an llms.Model, logging every call and counting calls, errors
// and tokens in a relay.Stats.
//
//	llm, _ := models.New(models.Options{Provider: "openai", Token: key})
//	model := models.NewTraced(llm, "gpt-4o-mini").WithStats(stats)
type Traced struct {
	model llms.Model
	name  string
	stats *relay.Stats
	clock relay.TimeProvider
	log   *logrus.Entry
}

// NewTraced wraps model. name labels log lines.
func NewTraced(model llms.Model, name string) *Traced {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Traced{
		model: model,
		name:  name,
		stats: relay.NewStats(),
		clock: relay.NewDefaultTimeProvider(),
		log:   logrus.NewEntry(l),
	}
}

// WithStats sets the stats sink.
func (m *Traced) WithStats(s *relay.Stats) *Traced {
	if s != nil {
		m.stats = s
	}
	return m
}

// WithLogger sets the logger.
func (m *Traced) WithLogger(log *logrus.Entry) *Traced {
	if log != nil {
		m.log = log
	}
	return m
}

// WithTimeProvider sets the clock used for call durations.
func (m *Traced) WithTimeProvider(tp relay.TimeProvider) *Traced {
	if tp != nil {
		m.clock = tp
	}
	return m
}

// Unwrap returns the underlying model.
func (m *Traced) Unwrap() llms.Model {
	return m.model
}

// Stats returns the stats sink.
func (m *Traced) Stats() *relay.Stats {
	return m.stats
}

// GenerateContent implements llms.Model.
func (m *Traced) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	start := m.clock.Now()
	resp, err := m.model.GenerateContent(ctx, messages, options...)
	elapsed := m.clock.Since(start)

	m.stats.IncrCounter(relay.KeyModelCalls, 1)
	log := m.log.WithFields(logrus.Fields{"model": m.name, "duration": elapsed})
	if err != nil {
		m.stats.IncrCounter(relay.KeyModelErrors, 1)
		log.WithError(err).Warn("model call failed")
		return resp, err
	}

	u := UsageOf(resp)
	m.stats.IncrCounter(relay.KeyModelInputTokens, int64(u.InputTokens))
	m.stats.IncrCounter(relay.KeyModelOutputTokens, int64(u.OutputTokens))
	log.WithFields(logrus.Fields{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
	}).Debug("model call")
	return resp, nil
}

// Call implements llms.Model.
func (m *Traced) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

var _ llms.Model = (*Traced)(nil)
