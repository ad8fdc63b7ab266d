package operations

import (
	"context"
	"fmt"
	"log/slog"

	"posextract/internal/aggregate"
	"posextract/internal/browser"
	"posextract/internal/extraction"
	"posextract/internal/infrastructure"
	"posextract/pkg/contracts/domain"
)

// Pipeline stage ids, in execution order.
const (
	StageSession        = "session"
	StageAuthentication = "authentication"
	StageNavigation     = "navigation"
	StageExtraction     = "extraction"
	StageAggregation    = "aggregation"
	StageExport         = "export"
	StageDelivery       = "delivery"
)

// PipelineStages lists every stage a job snapshot tracks.
var PipelineStages = []string{
	StageSession,
	StageAuthentication,
	StageNavigation,
	StageExtraction,
	StageAggregation,
	StageExport,
	StageDelivery,
}

// Pipeline is the body of a job.
type Pipeline interface {
	Run(ctx context.Context, job *domain.Job, progress ProgressReporter) (*domain.JobResult, error)
}

// Session hands out the browser page.
type Session interface {
	EnsureSession(ctx context.Context) (browser.Page, error)
	Restart(ctx context.Context) (browser.Page, error)
	Disconnected() bool
}

// Authenticator logs the page in.
type Authenticator interface {
	Authenticate(ctx context.Context, page browser.Page) error
}

// ReportNavigator opens the report view.
type ReportNavigator interface {
	OpenReport(ctx context.Context, page browser.Page, date string) (string, error)
	ResolveLocations(ctx context.Context, page browser.Page, configured []domain.Location) ([]domain.Location, error)
}

// LocationRunner exports each location, calling rec at most once if the
// browser goes away mid-run.
type LocationRunner interface {
	RunWithRecovery(ctx context.Context, page browser.Page, locations []domain.Location, reportDate string, rec extraction.Recovery) []domain.LocationOutcome
}

// ResultExporter writes the job result to disk and returns the path.
type ResultExporter interface {
	Export(ctx context.Context, jobID string, result domain.JobResult) (string, error)
}

// ExtractionPipeline is the production job body.
type ExtractionPipeline struct {
	Session   Session
	Auth      Authenticator
	Navigator ReportNavigator
	Loop      LocationRunner
	// Exporter is optional; export failures never fail the job.
	Exporter  ResultExporter
	Locations []domain.Location
	Tracer    *JobTracer
	Logger    *slog.Logger
}

// Run executes session, login, navigation, extraction, aggregation and
// export. Only the first three can fail the job.
func (p *ExtractionPipeline) Run(ctx context.Context, job *domain.Job, progress ProgressReporter) (*domain.JobResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx = infrastructure.WithJobID(ctx, job.ID)
	if progress == nil {
		progress = noopProgress{}
	}

	var page browser.Page
	err := p.stage(ctx, job.ID, StageSession, progress, func(ctx context.Context) error {
		var err error
		page, err = p.Session.EnsureSession(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, job.ID, StageAuthentication, progress, func(ctx context.Context) error {
		err := p.Auth.Authenticate(ctx, page)
		if !p.lostBrowser(ctx, err, logger, "login") {
			return err
		}
		if page, err = p.Session.EnsureSession(ctx); err != nil {
			return err
		}
		return p.Auth.Authenticate(ctx, page)
	})
	if err != nil {
		return nil, err
	}

	var (
		reportDate string
		locations  []domain.Location
	)
	err = p.stage(ctx, job.ID, StageNavigation, progress, func(ctx context.Context) error {
		err := p.navigate(ctx, page, job.ReportDate, &reportDate, &locations)
		if !p.lostBrowser(ctx, err, logger, "navigation") {
			return err
		}
		if page, err = p.Session.EnsureSession(ctx); err != nil {
			return err
		}
		if err = p.Auth.Authenticate(ctx, page); err != nil {
			return err
		}
		return p.navigate(ctx, page, job.ReportDate, &reportDate, &locations)
	})
	if err != nil {
		return nil, err
	}

	progress.StartStage(job.ID, StageExtraction, fmt.Sprintf("Extracting %d locations", len(locations)))
	stageCtx, end := p.Tracer.TraceStage(ctx, job.ID, StageExtraction)
	outcomes := p.Loop.RunWithRecovery(stageCtx, page, locations, reportDate, &sessionRecovery{
		pipeline:   p,
		reportDate: reportDate,
		logger:     logger,
	})
	end(nil)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	progress.CompleteStage(job.ID, StageExtraction,
		fmt.Sprintf("%d of %d locations extracted", len(outcomes)-failed, len(outcomes)))

	progress.StartStage(job.ID, StageAggregation, "Aggregating results")
	result := aggregate.Summarize(reportDate, aggregate.Aggregate(outcomes))
	progress.CompleteStage(job.ID, StageAggregation,
		fmt.Sprintf("%d items, %.2f total sales", result.TotalItems, result.TotalSales))

	if p.Exporter != nil {
		progress.StartStage(job.ID, StageExport, "Writing export")
		stageCtx, end := p.Tracer.TraceStage(ctx, job.ID, StageExport)
		path, err := p.Exporter.Export(stageCtx, job.ID, result)
		end(err)
		if err != nil {
			logger.WarnContext(ctx, "Export failed", slog.String("error", err.Error()))
			progress.FailStage(job.ID, StageExport, err)
		} else {
			result.ExportPath = path
			progress.CompleteStage(job.ID, StageExport, path)
		}
	}

	logger.InfoContext(ctx, "Pipeline finished",
		slog.String("report_date", reportDate),
		slog.Int("total_items", result.TotalItems),
		slog.Int("successful_locations", result.SuccessfulLocations),
		slog.Int("failed_locations", result.FailedLocations))
	return &result, nil
}

func (p *ExtractionPipeline) navigate(ctx context.Context, page browser.Page, date string, reportDate *string, locations *[]domain.Location) error {
	var err error
	if *reportDate, err = p.Navigator.OpenReport(ctx, page, date); err != nil {
		return err
	}
	*locations, err = p.Navigator.ResolveLocations(ctx, page, p.Locations)
	return err
}

// lostBrowser reports whether err came from a browser that died, which
// earns the stage one retry on a fresh session.
func (p *ExtractionPipeline) lostBrowser(ctx context.Context, err error, logger *slog.Logger, during string) bool {
	if err == nil || !p.Session.Disconnected() {
		return false
	}
	logger.WarnContext(ctx, "Browser lost, retrying on a fresh session",
		slog.String("during", during),
		slog.String("error", err.Error()))
	return true
}

// sessionRecovery restarts the browser mid-extraction and walks it back to
// the report for the date already being extracted.
type sessionRecovery struct {
	pipeline   *ExtractionPipeline
	reportDate string
	logger     *slog.Logger
}

func (r *sessionRecovery) Disconnected() bool {
	return r.pipeline.Session.Disconnected()
}

func (r *sessionRecovery) Recover(ctx context.Context) (browser.Page, error) {
	p := r.pipeline
	page, err := p.Session.Restart(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Auth.Authenticate(ctx, page); err != nil {
		return nil, err
	}
	if _, err := p.Navigator.OpenReport(ctx, page, r.reportDate); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "Browser recovered, resuming extraction")
	return page, nil
}

// stage runs fn as a fatal stage: failure is wrapped in *StageError.
func (p *ExtractionPipeline) stage(ctx context.Context, jobID, name string, progress ProgressReporter, fn func(context.Context) error) error {
	progress.StartStage(jobID, name, "")
	stageCtx, end := p.Tracer.TraceStage(ctx, jobID, name)
	err := fn(stageCtx)
	end(err)
	if err != nil {
		progress.FailStage(jobID, name, err)
		return &StageError{Stage: name, Err: err}
	}
	progress.CompleteStage(jobID, name, "")
	return nil
}

type noopProgress struct{}

func (noopProgress) StartStage(string, string, string)    {}
func (noopProgress) CompleteStage(string, string, string) {}
func (noopProgress) FailStage(string, string, error)      {}
