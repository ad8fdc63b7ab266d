package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths
// This is the single source of truth for file paths in the application
type Paths struct {
	DataDir      string
	DownloadsDir string
	ReportsDir   string
	ProfileDir   string
	LogsDir      string
	JobsDB       string
}

// resolvePaths fills the derived directories from DataDir.
func (c *Config) resolvePaths() {
	p := &c.Paths
	if p.DataDir == "" {
		p.DataDir = DefaultDataDir
	}
	if p.DownloadDir == "" {
		p.DownloadDir = filepath.Join(p.DataDir, DefaultDownloadsDir)
	}
	if p.ReportsDir == "" {
		p.ReportsDir = filepath.Join(p.DataDir, DefaultReportsDir)
	}
	if p.ProfileDir == "" {
		p.ProfileDir = filepath.Join(p.DataDir, DefaultProfileDir)
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(p.DataDir, DefaultJobsDB)
	}
}

// GetPaths returns absolute application paths for the configuration.
func (c *Config) GetPaths() (*Paths, error) {
	abs := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		out, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		return out, nil
	}

	paths := &Paths{}
	for _, item := range []struct {
		dst *string
		src string
	}{
		{&paths.DataDir, c.Paths.DataDir},
		{&paths.DownloadsDir, c.Paths.DownloadDir},
		{&paths.ReportsDir, c.Paths.ReportsDir},
		{&paths.ProfileDir, c.Paths.ProfileDir},
		{&paths.LogsDir, filepath.Dir(c.Logging.FilePath)},
		{&paths.JobsDB, c.Store.SQLitePath},
	} {
		v, err := abs(item.src)
		if err != nil {
			return nil, err
		}
		*item.dst = v
	}
	return paths, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.DownloadsDir,
		p.ReportsDir,
		p.ProfileDir,
		p.LogsDir,
	}

	logger := slog.Default()
	for _, dir := range directories {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
		logger.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// GetDownloadPath returns the path for a downloaded file
func (p *Paths) GetDownloadPath(filename string) string {
	return filepath.Join(p.DownloadsDir, filename)
}

// GetReportPath returns the path for a report file
func (p *Paths) GetReportPath(filename string) string {
	return filepath.Join(p.ReportsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
