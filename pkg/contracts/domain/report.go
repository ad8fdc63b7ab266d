package domain

import (
	"time"
)

// Location is a single store/branch extracted independently within a job.
type Location struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	ExternalID string `json:"external_id,omitempty" yaml:"external_id"`
}

// ExtractionRecord is one normalized line item from a location's exported artifact.
type ExtractionRecord struct {
	Location   string  `json:"location" validate:"required,whitelisted"`
	ItemName   string  `json:"item_name" validate:"required"`
	Category   string  `json:"category,omitempty"`
	Quantity   int     `json:"quantity" validate:"gte=0,lte=99999"`
	GrossSales float64 `json:"gross_sales" validate:"gte=0,lte=999999.99,money2dp"`
	Date       string  `json:"date" validate:"required,isodate"`
	SourceRow  int     `json:"-"`
}

// FieldError is a structured validation failure for a single field.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message,omitempty"`
}

// ValidationOutcome holds the verdict for one record.
type ValidationOutcome struct {
	Record ExtractionRecord `json:"record"`
	Valid  bool             `json:"valid"`
	Errors []FieldError     `json:"errors,omitempty"`
}

// LocationOutcome is what the extraction loop hands to the aggregator
// for a single location, whether it succeeded or not.
type LocationOutcome struct {
	Location     Location
	Records      []ExtractionRecord
	InvalidCount int
	Artifact     string
	Err          error
	Duration     time.Duration
}

// LocationResult is the per-location summary exposed to callers.
type LocationResult struct {
	Location     string             `json:"location"`
	Success      bool               `json:"success"`
	ItemCount    int                `json:"count"`
	TotalSales   float64            `json:"total_sales"`
	Categories   []string           `json:"categories,omitempty"`
	Records      []ExtractionRecord `json:"records,omitempty"`
	InvalidCount int                `json:"invalid_count,omitempty"`
	Error        string             `json:"error,omitempty"`
	DurationMS   int64              `json:"duration_ms"`
}

// JobResult is the aggregated, API-shaped output of a completed job.
type JobResult struct {
	ReportDate          string           `json:"report_date"`
	LocationResults     []LocationResult `json:"location_results"`
	TotalItems          int              `json:"total_items"`
	TotalSales          float64          `json:"total_sales"`
	SuccessfulLocations int              `json:"successful_locations"`
	FailedLocations     int              `json:"failed_locations"`
	ExportPath          string           `json:"export_path,omitempty"`
}

// Clone copies the result including nested slices.
func (r JobResult) Clone() JobResult {
	cp := r
	if r.LocationResults != nil {
		cp.LocationResults = make([]LocationResult, len(r.LocationResults))
		for i, lr := range r.LocationResults {
			lr.Categories = append([]string(nil), lr.Categories...)
			lr.Records = append([]ExtractionRecord(nil), lr.Records...)
			cp.LocationResults[i] = lr
		}
	}
	return cp
}
