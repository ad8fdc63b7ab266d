package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "posextract/internal/errors"
	"posextract/internal/middleware"
	"posextract/internal/operations"
	"posextract/pkg/contracts/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// JobService is the part of the job manager the handler needs.
type JobService interface {
	Submit(ctx context.Context, req operations.SubmitRequest) (*domain.Job, error)
	GetStatus(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]*domain.Job, error)
	Active(ctx context.Context) (*domain.Job, error)
}

// JobsHandler serves /api/v1/jobs.
type JobsHandler struct {
	service    JobService
	errHandler *apierrors.ErrorHandler
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
}

// NewJobsHandler creates a jobs handler. limiter guards job submission and
// may be nil.
func NewJobsHandler(service JobService, errHandler *apierrors.ErrorHandler, limiter *middleware.RateLimiter, logger *slog.Logger) *JobsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errHandler == nil {
		errHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &JobsHandler{
		service:    service,
		errHandler: errHandler,
		limiter:    limiter,
		logger:     logger.With(slog.String("handler", "jobs")),
	}
}

// Routes returns a chi router for the jobs endpoints
func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	submit := http.Handler(http.HandlerFunc(h.SubmitJob))
	if h.limiter != nil {
		submit = h.limiter.Handler(submit)
	}
	r.Method(http.MethodPost, "/", submit)
	r.Get("/", h.ListJobs)
	r.Get("/active", h.ActiveJob)
	r.Get("/{id}", h.GetJob)
	return r
}

// SubmitJobRequest is the POST body. Both fields are optional and are
// validated by the manager.
type SubmitJobRequest struct {
	DeliveryURL string `json:"delivery_url,omitempty"`
	ReportDate  string `json:"report_date,omitempty"`
}

// SubmitJobResponse acknowledges an admitted job.
type SubmitJobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// SubmitJob handles POST /api/v1/jobs
func (h *JobsHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("jobs-handler").Start(r.Context(), "jobs_handler.submit",
		trace.WithAttributes(
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	body := &SubmitJobRequest{}
	// Content-Type is not required; an empty body is an empty request.
	if err := render.DecodeJSON(r.Body, body); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "invalid body")
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	job, err := h.service.Submit(ctx, operations.SubmitRequest{
		DeliveryURL: body.DeliveryURL,
		ReportDate:  body.ReportDate,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.errHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("job.id", job.ID))
	h.logger.InfoContext(ctx, "Job submitted",
		slog.String("job_id", job.ID),
		slog.String("report_date", job.ReportDate),
		slog.String("request_id", middleware.GetReqID(ctx)))

	w.Header().Set("Location", r.URL.Path+"/"+job.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, SubmitJobResponse{JobID: job.ID, Status: job.Status})
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// ActiveJob handles GET /api/v1/jobs/active
func (h *JobsHandler) ActiveJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Active(r.Context())
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// ListJobsResponse wraps the job list.
type ListJobsResponse struct {
	Jobs  []*domain.Job `json:"jobs"`
	Count int           `json:"count"`
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			h.errHandler.HandleError(w, r, apierrors.ErrValidation("limit",
				"limit must be an integer between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		limit = n
	}

	jobs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	render.JSON(w, r, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}
