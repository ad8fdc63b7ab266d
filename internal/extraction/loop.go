package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"posextract/internal/browser"
	"posextract/internal/config"
	"posextract/internal/csvpipeline"
	"posextract/internal/download"
	"posextract/internal/infrastructure"
	"posextract/internal/validation"
	"posextract/pkg/contracts/domain"
)

// LocationSelectionError reports that the filter did not end up with exactly
// the requested location selected.
type LocationSelectionError struct {
	Location string
	Selected int
	Err      error
}

func (e *LocationSelectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to select location %q: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("failed to select location %q: %d locations selected, want 1", e.Location, e.Selected)
}

func (e *LocationSelectionError) Unwrap() error {
	return e.Err
}

// ErrNoLocationID is wrapped when a location has no external id to select by.
var ErrNoLocationID = errors.New("location has no external id")

// LoopOptions control the per-location export.
type LoopOptions struct {
	Selectors        config.SelectorConfig
	ArtifactPattern  string
	SelectorTimeout  time.Duration
	DownloadTimeout  time.Duration
	LocationInterval time.Duration
	Encoding         string
	Delimiter        rune
	// RequireStableSize is handed to the download watcher.
	RequireStableSize bool
}

// LoopOptionsFrom maps application config onto loop options.
func LoopOptionsFrom(cfg *config.Config) LoopOptions {
	var delim rune
	if cfg.Extraction.Delimiter != "" {
		delim = []rune(cfg.Extraction.Delimiter)[0]
	}
	return LoopOptions{
		Selectors:         cfg.Site.Selectors,
		ArtifactPattern:   cfg.Extraction.ArtifactPattern,
		SelectorTimeout:   cfg.Timeouts.Selector,
		DownloadTimeout:   cfg.Timeouts.Download,
		LocationInterval:  cfg.Extraction.LocationInterval,
		Encoding:          cfg.Extraction.Encoding,
		Delimiter:         delim,
		RequireStableSize: cfg.Extraction.RequireStableSize,
	}
}

// Loop exports locations one at a time. A failure is recorded against its
// location and the loop moves on.
type Loop struct {
	opts      LoopOptions
	watcher   *download.Watcher
	files     *validation.FileValidator
	parser    *csvpipeline.Parser
	validator *validation.Service
	logger    *slog.Logger
	metrics   *infrastructure.Metrics
}

// NewLoop wires the loop to its collaborators.
func NewLoop(opts LoopOptions, watcher *download.Watcher, parser *csvpipeline.Parser, validator *validation.Service, logger *slog.Logger, metrics *infrastructure.Metrics) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ArtifactPattern == "" {
		opts.ArtifactPattern = config.DefaultArtifactPattern
	}
	if opts.RequireStableSize {
		watcher.RequireStableSize = true
	}
	return &Loop{
		opts:      opts,
		watcher:   watcher,
		files:     validation.NewFileValidator(logger),
		parser:    parser,
		validator: validator,
		logger:    logger.With(slog.String("component", "extraction_loop")),
		metrics:   metrics,
	}
}

// Recovery brings a lost browser back to the report view on a fresh page.
type Recovery interface {
	Disconnected() bool
	Recover(ctx context.Context) (browser.Page, error)
}

// Run processes locations strictly in order and returns one outcome per
// location in the same order.
func (l *Loop) Run(ctx context.Context, page browser.Page, locations []domain.Location, reportDate string) []domain.LocationOutcome {
	return l.RunWithRecovery(ctx, page, locations, reportDate, nil)
}

// RunWithRecovery is Run with one recovery allowed: when a location fails
// because the browser went away, rec restarts it and the loop carries on
// from the next location. The failed location keeps its error.
func (l *Loop) RunWithRecovery(ctx context.Context, page browser.Page, locations []domain.Location, reportDate string, rec Recovery) []domain.LocationOutcome {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if l.opts.LocationInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(l.opts.LocationInterval), 1)
	}

	whitelist := make([]string, len(locations))
	for i, loc := range locations {
		whitelist[i] = loc.Name
	}
	rules := validation.Rules{AllowedLocations: whitelist}

	outcomes := make([]domain.LocationOutcome, 0, len(locations))
	var (
		selected   *domain.Location
		recovered  bool
		recoverErr error
	)

	for i := range locations {
		loc := locations[i]
		start := time.Now()

		if recoverErr != nil {
			outcomes = append(outcomes, domain.LocationOutcome{Location: loc, Err: recoverErr})
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			outcomes = append(outcomes, domain.LocationOutcome{Location: loc, Err: err, Duration: time.Since(start)})
			continue
		}

		outcome := l.processLocation(ctx, page, &locations[i], &selected, reportDate, rules)
		outcome.Duration = time.Since(start)

		l.metrics.LocationResult(outcome.Err == nil)
		if outcome.Err != nil {
			l.logger.WarnContext(ctx, "Location failed",
				slog.String("location", loc.Name),
				slog.Int("position", i+1),
				slog.String("error", outcome.Err.Error()))
		} else {
			l.logger.InfoContext(ctx, "Location extracted",
				slog.String("location", loc.Name),
				slog.Int("position", i+1),
				slog.Int("records", len(outcome.Records)),
				slog.Int("invalid", outcome.InvalidCount),
				slog.Duration("duration", outcome.Duration))
		}
		outcomes = append(outcomes, outcome)

		if outcome.Err == nil || rec == nil || recovered || !rec.Disconnected() {
			continue
		}
		recovered = true
		l.logger.WarnContext(ctx, "Browser lost during extraction, recovering",
			slog.String("location", loc.Name),
			slog.Int("remaining", len(locations)-i-1))
		fresh, err := rec.Recover(ctx)
		if err != nil {
			l.logger.ErrorContext(ctx, "Browser recovery failed", slog.String("error", err.Error()))
			recoverErr = fmt.Errorf("browser recovery failed: %w", err)
			continue
		}
		page = fresh
		selected = nil
	}
	return outcomes
}

func (l *Loop) processLocation(ctx context.Context, page browser.Page, current *domain.Location, selected **domain.Location, reportDate string, rules validation.Rules) domain.LocationOutcome {
	loc := *current
	ctx, span := infrastructure.StartSpan(ctx, "extraction.location",
		attribute.String("location", loc.Name),
		attribute.String("location_id", loc.ExternalID))
	defer span.End()

	outcome := domain.LocationOutcome{Location: loc}
	fail := func(err error) domain.LocationOutcome {
		infrastructure.RecordError(ctx, err)
		outcome.Err = err
		return outcome
	}

	if err := l.selectLocation(ctx, page, current, selected); err != nil {
		return fail(err)
	}

	name := download.ArtifactName(l.opts.ArtifactPattern, loc.Name, loc.ExternalID, reportDate)
	if err := l.watcher.Prepare(name); err != nil {
		return fail(err)
	}

	if err := l.export(ctx, page); err != nil {
		return fail(fmt.Errorf("export %s: %w", loc.Name, err))
	}

	path, err := l.watcher.WaitForArtifact(ctx, name, l.opts.DownloadTimeout)
	if err != nil {
		return fail(err)
	}
	outcome.Artifact = path

	if err := l.files.ValidateArtifact(path); err != nil {
		return fail(err)
	}

	records, stats, err := l.parser.Parse(ctx, path, csvpipeline.Options{
		Location:  loc.Name,
		Date:      reportDate,
		Encoding:  l.opts.Encoding,
		Delimiter: l.opts.Delimiter,
	})
	if err != nil {
		return fail(err)
	}

	result := l.validator.ValidateBatch(records, rules)
	l.metrics.Records(len(result.Valid), len(result.Invalid))
	for _, inv := range result.Invalid {
		l.logger.DebugContext(ctx, "Record rejected",
			slog.String("location", loc.Name),
			slog.Int("row", inv.Record.SourceRow),
			slog.Any("errors", inv.Errors))
	}

	outcome.Records = result.Valid
	outcome.InvalidCount = len(result.Invalid)
	l.logger.DebugContext(ctx, "Artifact parsed",
		slog.String("location", loc.Name),
		slog.Int("rows", stats.Rows),
		slog.Int("dropped_blank", stats.DroppedBlank),
		slog.Int("dropped_no_item", stats.DroppedNoItem),
		slog.String("encoding", stats.Encoding))
	return outcome
}

// selectLocation clears the previous choice, checks current, and confirms
// the filter holds exactly one selection. *selected tracks which location
// the filter has checked as far as this loop knows.
func (l *Loop) selectLocation(ctx context.Context, page browser.Page, current *domain.Location, selected **domain.Location) error {
	if current.ExternalID == "" {
		return &LocationSelectionError{Location: current.Name, Err: ErrNoLocationID}
	}

	ctx, cancel := browser.WithTimeout(ctx, l.opts.SelectorTimeout)
	defer cancel()

	if prev := *selected; prev != nil && prev.ExternalID != current.ExternalID {
		if err := page.Click(ctx, l.optionSelector(*prev)); err != nil {
			return &LocationSelectionError{Location: current.Name, Err: fmt.Errorf("deselect %s: %w", prev.Name, err)}
		}
		*selected = nil
	}

	if *selected == nil {
		option := l.optionSelector(*current)
		if err := page.WaitVisible(ctx, option); err != nil {
			return &LocationSelectionError{Location: current.Name, Err: err}
		}
		if err := page.Click(ctx, option); err != nil {
			return &LocationSelectionError{Location: current.Name, Err: err}
		}
		*selected = current
	}

	count, err := l.selectedCount(ctx, page)
	if err != nil {
		return &LocationSelectionError{Location: current.Name, Err: err}
	}
	if count != 1 {
		return &LocationSelectionError{Location: current.Name, Selected: count}
	}
	return nil
}

func (l *Loop) selectedCount(ctx context.Context, page browser.Page) (int, error) {
	var count int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, browser.JSString(l.opts.Selectors.LocationSelected))
	if err := page.Evaluate(ctx, expr, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (l *Loop) export(ctx context.Context, page browser.Page) error {
	ctx, cancel := browser.WithTimeout(ctx, l.opts.SelectorTimeout)
	defer cancel()
	if err := page.WaitVisible(ctx, l.opts.Selectors.ExportButton); err != nil {
		return err
	}
	return page.Click(ctx, l.opts.Selectors.ExportButton)
}

func (l *Loop) optionSelector(loc domain.Location) string {
	return strings.NewReplacer("{id}", loc.ExternalID, "{name}", loc.Name).Replace(l.opts.Selectors.LocationOption)
}
