package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/viniciushammett/go-build-inspector/internal/baseline"
	"github.com/viniciushammett/go-build-inspector/internal/capture"
	"github.com/viniciushammett/go-build-inspector/internal/commands"
	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/filesystem"
	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/metrics"
	"github.com/viniciushammett/go-build-inspector/internal/network"
	"github.com/viniciushammett/go-build-inspector/internal/processes"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/resolver"
)

var tracer = otel.Tracer("processor")

type Deps struct {
	Baseline    *baseline.Set
	Files       evidence.Files
	Resolver    resolver.Source
	OpenCapture func(ctx context.Context, path string) (capture.Capture, error)
	FSIgnore    []string
}

type Options struct {
	Dir       string   `json:"dir"`
	VMAddress string   `json:"vmAddress"`
	Whitelist []string `json:"whitelist"`
	Parallel  bool     `json:"parallel"`
}

type Processor struct {
	log  *logger.Logger
	deps Deps
}

func New(log *logger.Logger, d Deps) *Processor {
	d.Files = d.Files.WithDefaults()
	if d.Resolver == nil {
		d.Resolver = resolver.System()
	}
	if d.OpenCapture == nil {
		d.OpenCapture = func(ctx context.Context, p string) (capture.Capture, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return capture.Open(p)
		}
	}
	return &Processor{log: log, deps: d}
}

type stage struct {
	name string
	run  func(ctx context.Context) (report.Section, error)
}

// Process runs the four reporters against one evidence directory. Sections
// come back in fixed order whether or not the stages ran in parallel.
func (p *Processor) Process(ctx context.Context, o Options) (*report.Report, error) {
	if o.Dir == "" {
		return nil, fmt.Errorf("%w: evidence directory not set", evidence.ErrMalformedConfig)
	}
	if o.VMAddress == "" {
		return nil, fmt.Errorf("%w: vm address not set", evidence.ErrMalformedConfig)
	}
	ctx, span := tracer.Start(ctx, "process")
	defer span.End()
	span.SetAttributes(attribute.String("dir", o.Dir), attribute.String("vm", o.VMAddress))

	f := p.deps.Files
	path := func(name string) string { return evidence.Path(o.Dir, name) }

	stages := []stage{
		{commands.SectionName, func(context.Context) (report.Section, error) {
			if p.deps.Baseline == nil {
				return report.Section{}, fmt.Errorf("%w: no baseline rules", evidence.ErrMalformedConfig)
			}
			sec, st, err := commands.New(p.deps.Baseline).Run(path(f.Commands), path(f.FilteredCommands))
			if err != nil {
				return sec, err
			}
			metrics.BaselineRemoved.Add(float64(st.Baseline))
			p.log.Debug().Int("input", st.Input).Int("baseline", st.Baseline).Int("excised", st.Excised).
				Int("remaining", st.Remaining).Msg("command log filtered")
			return sec, nil
		}},
		{network.SectionName, func(ctx context.Context) (report.Section, error) {
			c, err := p.deps.OpenCapture(ctx, path(f.Capture))
			if err != nil {
				return report.Section{}, err
			}
			if err := ctx.Err(); err != nil {
				return report.Section{}, err
			}
			agg := &network.Aggregator{VMAddress: o.VMAddress, Whitelist: o.Whitelist, Resolver: p.deps.Resolver}
			hosts, err := agg.Hosts(c)
			if err != nil {
				return report.Section{}, err
			}
			metrics.OutgoingBytes.Reset()
			for _, h := range hosts {
				metrics.OutgoingBytes.WithLabelValues(h.Name).Set(float64(h.Bytes))
			}
			return network.Section(hosts), nil
		}},
		{filesystem.SectionName, func(context.Context) (report.Section, error) {
			return filesystem.New(p.deps.FSIgnore...).Run(path(f.FilesystemChanges))
		}},
		{processes.SectionName, func(context.Context) (report.Section, error) {
			return processes.Run(path(f.ProcessesBefore), path(f.ProcessesAfter))
		}},
	}

	sections := make([]report.Section, len(stages))
	exec := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := stages[i]
		_, sp := tracer.Start(ctx, s.name)
		defer sp.End()
		start := time.Now()
		sec, err := s.run(ctx)
		metrics.StageDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			sp.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%s: %w", s.name, err)
		}
		sp.SetAttributes(attribute.Int("lines", len(sec.Lines)))
		metrics.Anomalies.WithLabelValues(s.name).Add(float64(len(sec.Lines)))
		p.log.Info().Str("stage", s.name).Int("lines", len(sec.Lines)).Dur("dur", time.Since(start)).Msg("stage done")
		sections[i] = sec
		return nil
	}

	var err error
	if o.Parallel {
		// the first failing stage cancels gctx for the others
		g, gctx := errgroup.WithContext(ctx)
		for i := range stages {
			i := i
			g.Go(func() error { return exec(gctx, i) })
		}
		err = g.Wait()
	} else {
		for i := range stages {
			if err = exec(ctx, i); err != nil {
				break
			}
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.Runs.WithLabelValues("error").Inc()
		p.log.Error().Err(err).Str("dir", o.Dir).Msg("processing failed")
		return nil, err
	}
	metrics.Runs.WithLabelValues("ok").Inc()

	return &report.Report{
		ID:        newID(),
		When:      time.Now().UTC(),
		Dir:       o.Dir,
		VMAddress: o.VMAddress,
		Sections:  sections,
	}, nil
}

// newID is time ordered so the archive iterates chronologically.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
