package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/viniciushammett/go-build-inspector/internal/config"
	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/processor"
	"github.com/viniciushammett/go-build-inspector/internal/report"
)

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, o processor.Options) (*report.Report, error)
}

// Add registers one cron entry per job. Job fields left empty inherit from defaults.
func Add(ctx context.Context, c *cron.Cron, log *logger.Logger, jobs []config.Job, defaults processor.Options, r Runner) error {
	for _, job := range jobs {
		j := job
		o := toOptions(j, defaults)
		_, err := c.AddFunc(j.Schedule, func() {
			log.Info().Str("job", j.Name).Str("dir", o.Dir).Msg("running scheduled inspection")
			rep, err := r.Run(ctx, o)
			if err != nil {
				log.Error().Err(err).Str("job", j.Name).Msg("inspection failed")
				return
			}
			log.Info().Str("job", j.Name).Str("id", rep.ID).Int("anomalies", rep.Anomalies()).Msg("inspection done")
		})
		if err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
	}
	return nil
}

// New accepts standard five-field specs plus descriptors like @hourly and @every 10m.
func New() *cron.Cron {
	return cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
}

func toOptions(j config.Job, d processor.Options) processor.Options {
	o := d
	if j.Dir != "" {
		o.Dir = j.Dir
	}
	if j.VMAddress != "" {
		o.VMAddress = j.VMAddress
	}
	if j.Whitelist != nil {
		o.Whitelist = j.Whitelist
	}
	return o
}
