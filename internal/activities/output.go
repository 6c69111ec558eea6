package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

const (
	rawDir         = "raw"
	transformedDir = "transformed"
)

// SetupOutputDirectory creates the raw and transformed directories of a run.
func (a *Activities) SetupOutputDirectory(ctx context.Context, outputPath string) error {
	if err := checkOutputPath(outputPath); err != nil {
		return errkind.ToTemporal(err)
	}
	for _, dir := range []string{rawDir, transformedDir} {
		if err := os.MkdirAll(filepath.Join(outputPath, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	a.logger(ctx).Info("output directory ready", zap.String("outputPath", outputPath))
	return nil
}

// TeardownOutputDirectory removes the local output of a run.
func (a *Activities) TeardownOutputDirectory(ctx context.Context, outputPath string) error {
	if err := checkOutputPath(outputPath); err != nil {
		return errkind.ToTemporal(err)
	}
	if err := os.RemoveAll(outputPath); err != nil {
		return fmt.Errorf("failed to remove output directory: %w", err)
	}
	a.logger(ctx).Info("output directory removed", zap.String("outputPath", outputPath))
	return nil
}

func checkOutputPath(outputPath string) error {
	clean := filepath.Clean(outputPath)
	if outputPath == "" || clean == "/" || clean == "." {
		return errkind.Config.New("invalid output path %q", outputPath)
	}
	return nil
}

func chunkPath(outputPath, dir, typename string, chunk int) string {
	return filepath.Join(outputPath, dir, fmt.Sprintf("%s-%d.json", typename, chunk))
}

func chunksFile(outputPath, typename string) string {
	return filepath.Join(outputPath, typename+"-chunks.txt")
}

// clearChunks removes the chunk files and chunk count of typename.
func clearChunks(outputPath, typename string) error {
	for _, dir := range []string{rawDir, transformedDir} {
		matches, err := filepath.Glob(filepath.Join(outputPath, dir, typename+"-[0-9]*.json"))
		if err != nil {
			return errkind.Config.Wrap(err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale chunk: %w", err)
			}
		}
	}
	if err := os.Remove(chunksFile(outputPath, typename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale chunk count: %w", err)
	}
	return nil
}
