package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "posextract"
	AppVersion = "1.0.0"

	// File Paths (relative to the working directory unless overridden)
	DefaultDataDir      = "data"
	DefaultLogsDir      = "logs"
	DefaultDownloadsDir = "downloads"
	DefaultReportsDir   = "reports"
	DefaultProfileDir   = "profile"
	DefaultJobsDB       = "jobs.db"

	// Operation Timeouts
	DefaultJobTimeout = 30 * time.Minute

	// Artifact naming. Placeholders: {location}, {id}, {date}.
	DefaultArtifactPattern = "sales_{location}_{date}.csv"

	// WebSocket
	WebSocketPingPeriod      = 30 * time.Second
	WebSocketPongWait        = 60 * time.Second
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	// API Endpoints
	APIBasePath       = "/api/v1"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"
)

// DefaultSelectors matches the stock back-office markup. Every entry can be
// overridden per deployment.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		UsernameInput:    `input[name="username"]`,
		PasswordInput:    `input[name="password"]`,
		SubmitButton:     `button[type="submit"]`,
		LoginError:       `.login-error, .alert-danger`,
		Challenge:        `.g-recaptcha, .h-captcha, [data-sitekey]`,
		ChallengeSiteKey: "data-sitekey",
		ChallengeToken:   `textarea[name="g-recaptcha-response"]`,
		ReportRoot:       `#report-root`,
		DateInput:        `input[name="report_date"]`,
		ApplyDate:        `#apply-date`,
		LocationList:     `#location-filter`,
		LocationOption:   `#location-filter input[value="{id}"]`,
		LocationSelected: `#location-filter input:checked`,
		ExportButton:     `#export-csv`,
	}
}
