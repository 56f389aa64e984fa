// Package pipeline ties one processing run to its side effects: the report
// is archived when a store is configured and summarised to Slack when it has
// findings.
package pipeline

import (
	"context"

	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/notify"
	"github.com/viniciushammett/go-build-inspector/internal/processor"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/store"
)

type Pipeline struct {
	Log      *logger.Logger
	Proc     *processor.Processor
	Store    *store.Store  // optional
	Notifier *notify.Slack // optional
}

// Run processes o. Archive and notify failures are logged, not returned:
// the report itself is still valid.
func (p *Pipeline) Run(ctx context.Context, o processor.Options) (*report.Report, error) {
	rep, err := p.Proc.Process(ctx, o)
	if err != nil {
		return nil, err
	}
	if p.Store != nil {
		if err := p.Store.Put(rep); err != nil {
			p.Log.Error().Err(err).Str("id", rep.ID).Msg("archive report")
		} else {
			p.Log.Info().Str("id", rep.ID).Msg("report archived")
		}
	}
	if msg := notify.Format(rep); msg != "" {
		if err := p.Notifier.Send(msg); err != nil {
			p.Log.Warn().Err(err).Msg("slack notify failed")
		}
	}
	return rep, nil
}
