package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

// DefaultMaxSeedFileSize bounds the size of a single seeded file.
const DefaultMaxSeedFileSize int64 = 10 * 1024 * 1024

// SeedConfig describes the local support files copied into every new sandbox.
type SeedConfig struct {
	// SourceDir is the local directory to copy. Empty disables seeding.
	SourceDir string
	// DestDir is the sandbox directory SourceDir is mirrored into.
	DestDir string
	// MaxFileSize skips larger files. Zero means DefaultMaxSeedFileSize.
	MaxFileSize int64
}

// CollectSeedFiles reads every regular file under cfg.SourceDir, in lexical
// order, and maps it to its destination under cfg.DestDir. Files larger than
// the size limit are skipped. A missing source directory yields no files.
func CollectSeedFiles(ctx context.Context, cfg SeedConfig, logger *slog.Logger) ([]FileUpload, error) {
	if cfg.SourceDir == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSeedFileSize
	}

	var files []FileUpload
	err := filepath.WalkDir(cfg.SourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSize {
			logger.DebugContext(ctx, "skipping oversized seed file",
				slog.String("path", p),
				slog.Int64("size", info.Size()),
				slog.Int64("max_size", maxSize),
			)
			return nil
		}

		rel, err := filepath.Rel(cfg.SourceDir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read seed file %s: %w", p, err)
		}
		files = append(files, FileUpload{
			Path:    path.Join(cfg.DestDir, filepath.ToSlash(rel)),
			Content: content,
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) && len(files) == 0 {
		logger.DebugContext(ctx, "seed directory does not exist", slog.String("dir", cfg.SourceDir))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}
