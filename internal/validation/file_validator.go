package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// artifactExtensions are the export formats the pipeline can read.
var artifactExtensions = map[string]bool{
	".csv":  true,
	".txt":  true,
	".xlsx": true,
	".xlsm": true,
}

// FileValidator checks directories and downloaded artifacts before use
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger.With(slog.String("component", "file_validator")),
	}
}

// ValidateOutputDirectory ensures dir exists or can be created and is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	file.Close()
	os.Remove(testFile)

	v.logger.Debug("Output directory validated", slog.String("directory", dir))
	return nil
}

// ValidateArtifact checks that path is a readable, complete export file of a
// supported format.
func (v *FileValidator) ValidateArtifact(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("Artifact does not exist", slog.String("file", path))
		return fmt.Errorf("artifact %s does not exist: %w", path, err)
	}
	if err != nil {
		return fmt.Errorf("failed to stat artifact %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		v.logger.Warn("Skipping temporary artifact", slog.String("file", path))
		return fmt.Errorf("artifact %s is a temporary file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !artifactExtensions[ext] {
		v.logger.Error("Unsupported artifact format",
			slog.String("file", path),
			slog.String("extension", ext))
		return fmt.Errorf("artifact %s has unsupported extension %q", path, ext)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("artifact %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("Artifact validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}
