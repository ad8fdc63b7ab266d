// Package validation checks parsed records and artifact files.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"posextract/pkg/contracts/domain"
)

// Field error codes.
const (
	CodeRequired        = "REQUIRED"
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodePrecision       = "PRECISION"
	CodeInvalidDate     = "INVALID_DATE"
	CodeUnknownLocation = "UNKNOWN_LOCATION"
	CodeInvalid         = "INVALID"
)

// Rules parameterize a validation run.
type Rules struct {
	// AllowedLocations is the location whitelist. Empty allows any location.
	AllowedLocations []string
}

// Result splits a batch by verdict. Valid keeps input order.
type Result struct {
	Valid   []domain.ExtractionRecord
	Invalid []domain.ValidationOutcome
}

type whitelistKey struct{}

// Service validates extraction records. It holds no per-call state and is
// safe for concurrent use.
type Service struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a record validation service
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Registration only fails on empty tags or nil funcs.
	_ = v.RegisterValidation("money2dp", validateMoney)
	_ = v.RegisterValidation("isodate", validateISODate)
	_ = v.RegisterValidationCtx("whitelisted", validateWhitelisted)

	return &Service{
		validate: v,
		logger:   logger.With(slog.String("component", "validation")),
	}
}

// ValidateRecord returns the verdict for one record.
func (s *Service) ValidateRecord(rec domain.ExtractionRecord, rules Rules) domain.ValidationOutcome {
	ctx := context.WithValue(context.Background(), whitelistKey{}, normalizeSet(rules.AllowedLocations))
	return s.validateOne(ctx, rec)
}

// ValidateBatch validates every record and splits them by verdict.
func (s *Service) ValidateBatch(records []domain.ExtractionRecord, rules Rules) Result {
	ctx := context.WithValue(context.Background(), whitelistKey{}, normalizeSet(rules.AllowedLocations))

	var res Result
	for _, rec := range records {
		outcome := s.validateOne(ctx, rec)
		if outcome.Valid {
			res.Valid = append(res.Valid, rec)
			continue
		}
		res.Invalid = append(res.Invalid, outcome)
	}

	if len(res.Invalid) > 0 {
		s.logger.Debug("Records rejected",
			slog.Int("valid", len(res.Valid)),
			slog.Int("invalid", len(res.Invalid)))
	}
	return res
}

func (s *Service) validateOne(ctx context.Context, rec domain.ExtractionRecord) domain.ValidationOutcome {
	outcome := domain.ValidationOutcome{Record: rec, Valid: true}

	err := s.validate.StructCtx(ctx, rec)
	if err == nil {
		return outcome
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		outcome.Valid = false
		outcome.Errors = []domain.FieldError{{Code: CodeInvalid, Message: err.Error()}}
		return outcome
	}

	outcome.Valid = false
	for _, fe := range verrs {
		outcome.Errors = append(outcome.Errors, toFieldError(fe))
	}
	return outcome
}

func toFieldError(fe validator.FieldError) domain.FieldError {
	out := domain.FieldError{Field: fe.Field(), Value: fe.Value()}
	switch fe.Tag() {
	case "required":
		out.Code = CodeRequired
		out.Message = fmt.Sprintf("%s is required", fe.Field())
	case "gte", "lte", "gt", "lt", "min", "max":
		out.Code = CodeOutOfRange
		out.Message = fmt.Sprintf("%s must be %s %s", fe.Field(), rangeWord(fe.Tag()), fe.Param())
	case "money2dp":
		out.Code = CodePrecision
		out.Message = fmt.Sprintf("%s must have at most 2 decimal places", fe.Field())
	case "isodate":
		out.Code = CodeInvalidDate
		out.Message = fmt.Sprintf("%s must be a YYYY-MM-DD date", fe.Field())
	case "whitelisted":
		out.Code = CodeUnknownLocation
		out.Message = fmt.Sprintf("%s %v is not a configured location", fe.Field(), fe.Value())
	default:
		out.Code = CodeInvalid
		out.Message = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return out
}

func rangeWord(tag string) string {
	switch tag {
	case "gte", "min":
		return ">="
	case "gt":
		return ">"
	case "lt":
		return "<"
	default:
		return "<="
	}
}

func validateMoney(fl validator.FieldLevel) bool {
	var v float64
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		v = fl.Field().Float()
	default:
		return false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}

func validateISODate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validateWhitelisted(ctx context.Context, fl validator.FieldLevel) bool {
	allowed, _ := ctx.Value(whitelistKey{}).(map[string]bool)
	if len(allowed) == 0 {
		return true
	}
	return allowed[normalizeName(fl.Field().String())]
}

func normalizeSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[normalizeName(n)] = true
	}
	return set
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
