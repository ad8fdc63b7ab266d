package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posextract/pkg/contracts/domain"
)

// requiredEnv is the minimum environment that passes validation.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSX_CONFIG", "")
	t.Setenv("POSX_SITE_BASE_URL", "https://backoffice.example.com")
	t.Setenv("POSX_CREDENTIALS_USERNAME", "reports")
	t.Setenv("POSX_CREDENTIALS_PASSWORD", "secret")
	t.Setenv("POSX_EXTRACTION_LOCATIONS", "Downtown=101,Airport=102")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posextract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name:     "defaults fill everything not provided",
			setupEnv: requiredEnv,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "memory", cfg.Store.Driver)
				assert.Equal(t, 3, cfg.Delivery.MaxRetries)
				assert.Equal(t, DefaultJobTimeout, cfg.Timeouts.Job)
				assert.Equal(t, DefaultSelectors().ExportButton, cfg.Site.Selectors.ExportButton)
				assert.False(t, cfg.Browser.Headful)
				assert.Equal(t, filepath.Join(DefaultDataDir, DefaultDownloadsDir), cfg.Paths.DownloadDir)
			},
		},
		{
			name:     "locations decoded from environment",
			setupEnv: requiredEnv,
			validateCfg: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Extraction.Locations, 2)
				assert.Equal(t, domain.Location{Name: "Downtown", ExternalID: "101"}, cfg.Extraction.Locations[0])
				assert.Equal(t, []string{"Downtown", "Airport"}, cfg.Extraction.Locations.Names())
			},
		},
		{
			name: "environment overrides file and file overrides defaults",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_SERVER_PORT", "9090")
			},
			file: `
server:
  port: 7070
  read_timeout: 5s
delivery:
  max_retries: 5
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 5, cfg.Delivery.MaxRetries)
				assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
			},
		},
		{
			name: "file supplies locations as a sequence",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_EXTRACTION_LOCATIONS", "")
			},
			file: `
extraction:
  locations:
    - name: Harbor
      external_id: "7"
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Extraction.Locations, 1)
				assert.Equal(t, "Harbor", cfg.Extraction.Locations[0].Name)
				assert.Equal(t, "7", cfg.Extraction.Locations[0].ExternalID)
			},
		},
		{
			name:     "user agent and stable download size from file",
			setupEnv: requiredEnv,
			file: `
browser:
  user_agent: "Mozilla/5.0 (Back Office)"
extraction:
  require_stable_size: true
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "Mozilla/5.0 (Back Office)", cfg.Browser.UserAgent)
				assert.True(t, cfg.Extraction.RequireStableSize)
			},
		},
		{
			name: "sqlite path derived from data dir",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_STORE_DRIVER", "sqlite")
				t.Setenv("POSX_PATHS_DATA_DIR", "/var/lib/posx")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, filepath.Join("/var/lib/posx", DefaultJobsDB), cfg.Store.SQLitePath)
			},
		},
		{
			name: "missing credentials fail validation",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_CREDENTIALS_PASSWORD", "")
			},
			wantErr: true,
		},
		{
			name: "no locations fail validation",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_EXTRACTION_LOCATIONS", "")
			},
			wantErr: true,
		},
		{
			name: "redis driver requires address",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_STORE_DRIVER", "redis")
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_SERVER_PORT", "70000")
			},
			wantErr: true,
		},
		{
			name: "duplicate locations rejected",
			setupEnv: func(t *testing.T) {
				requiredEnv(t)
				t.Setenv("POSX_EXTRACTION_LOCATIONS", "Downtown=1,downtown=2")
			},
			wantErr: true,
		},
		{
			name:     "malformed file",
			setupEnv: requiredEnv,
			file:     "server: [unterminated",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv(t)
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLocationListDecode(t *testing.T) {
	var l LocationList
	require.NoError(t, l.Decode(" Downtown = 101 , Airport,, "))
	assert.Equal(t, LocationList{
		{Name: "Downtown", ExternalID: "101"},
		{Name: "Airport"},
	}, l)

	assert.Error(t, l.Decode("=5"))
}
