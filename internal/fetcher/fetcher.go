// Package fetcher downloads a resolved track to local disk as mp3
// using yt-dlp. Each fetch works in its own temp directory under the
// configured download dir.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/media"
)

// Service invokes yt-dlp to download audio.
type Service struct {
	ytdlpPath string
	dir       string
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a fetcher Service, creating the download directory if
// needed.
func New(cfg config.DownloadConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %q: %w", cfg.Dir, err)
	}
	return &Service{
		ytdlpPath: cfg.YTDLPPath,
		dir:       cfg.Dir,
		timeout:   cfg.FetchTimeout,
		logger:    logger.With("component", "fetcher"),
	}, nil
}

// Fetch downloads the descriptor's source into a fresh temp directory
// and returns the artifact. Ownership of the artifact (and its
// directory) passes to the caller.
func (s *Service) Fetch(ctx context.Context, desc *media.Descriptor) (*media.Artifact, error) {
	tmpDir, err := os.MkdirTemp(s.dir, "fetch-*")
	if err != nil {
		return nil, media.NewFlowError(media.KindFetchUnavailable,
			fmt.Errorf("failed to create fetch directory: %w", err))
	}

	artifact, err := s.download(ctx, desc, tmpDir)
	if err != nil {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.WarnContext(ctx, "Failed to clean up fetch directory", "dir", tmpDir, "error", rmErr)
		}
		return nil, err
	}
	return artifact, nil
}

func (s *Service) download(ctx context.Context, desc *media.Descriptor, tmpDir string) (*media.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outTemplate := filepath.Join(tmpDir, "%(id)s.%(ext)s")
	cmd := exec.CommandContext(ctx, s.ytdlpPath,
		"--no-playlist",
		"-f", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--restrict-filenames",
		"-o", outTemplate,
		desc.SourceRef,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.DebugContext(ctx, "Running yt-dlp download",
		"source", desc.SourceRef, "dir", tmpDir)
	start := time.Now()

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, media.NewFlowError(media.KindFetchTimeout,
			fmt.Errorf("yt-dlp download timed out after %s", s.timeout))
	}
	if err != nil {
		return nil, classifyFetchError(err, stderr.String())
	}

	path, err := findMP3(tmpDir)
	if err != nil {
		return nil, media.NewFlowError(media.KindFetchUnavailable,
			fmt.Errorf("download produced no mp3: %w", err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, media.NewFlowError(media.KindFetchUnavailable,
			fmt.Errorf("failed to stat downloaded file: %w", err))
	}

	s.logger.InfoContext(ctx, "Download finished",
		"source", desc.SourceRef, "file", path,
		"size", info.Size(), "duration", time.Since(start))

	return &media.Artifact{
		LocalRef: path,
		Size:     info.Size(),
		MIME:     "audio/mpeg",
	}, nil
}

// findMP3 locates the downloaded mp3 in dir. yt-dlp decides the final
// filename, so the directory is scanned instead of guessed.
func findMP3(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".mp3") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no .mp3 file in %q", dir)
}

// classifyFetchError maps a yt-dlp download failure onto the pipeline
// taxonomy using the stderr text.
func classifyFetchError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "rate-limit"),
		strings.Contains(lower, "rate limit"):
		return media.NewFlowError(media.KindFetchQuota,
			fmt.Errorf("yt-dlp rate limited: %s: %w", firstLine(stderr), err))
	case strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "copyright"),
		strings.Contains(lower, "unsupported url"):
		return media.NewFlowError(media.KindFetchUnavailable,
			fmt.Errorf("yt-dlp: %s: %w", firstLine(stderr), err))
	default:
		return media.NewFlowError(media.KindFetchUnavailable,
			fmt.Errorf("yt-dlp download failed: %s: %w", firstLine(stderr), err))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	return s
}
