package ffmpeg

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type Extractor struct {
	fps    int
	format string
	logger *zap.Logger
}

func NewExtractor(fps int, format string, logger *zap.Logger) *Extractor {
	return &Extractor{fps: fps, format: format, logger: logger}
}

// ExtractArchive samples frames from the video and packages them as
// "{videoBasename}.zip" inside outputDir, returning the archive filename.
// Intermediate frames live in a scoped temp dir that is always removed.
func (e *Extractor) ExtractArchive(ctx context.Context, videoPath, outputDir string) (string, error) {
	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		e.logger.Warn("could not get video duration", zap.Error(err))
	}

	framesDir, err := os.MkdirTemp("", "framix-frames-")
	if err != nil {
		return "", fmt.Errorf("create frames dir: %w", err)
	}
	defer os.RemoveAll(framesDir)

	framePattern := filepath.Join(framesDir, fmt.Sprintf("frame_%%04d.%s", e.format))
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%d", e.fps),
		"-y",
		framePattern,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}

	frames, err := filepath.Glob(filepath.Join(framesDir, fmt.Sprintf("*.%s", e.format)))
	if err != nil {
		return "", fmt.Errorf("glob frames: %w", err)
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames extracted from video")
	}

	base := filepath.Base(videoPath)
	archiveName := strings.TrimSuffix(base, filepath.Ext(base)) + ".zip"
	if err := createArchive(ctx, frames, filepath.Join(outputDir, archiveName)); err != nil {
		return "", err
	}

	e.logger.Info("frames archived",
		zap.Int("count", len(frames)),
		zap.Float64("video_duration", duration),
		zap.String("archive", archiveName),
	)
	return archiveName, nil
}

func (e *Extractor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// createArchive zips the given files flat (no directories). A partial
// archive is removed on failure so no output leaks past the call.
func createArchive(ctx context.Context, filePaths []string, outputPath string) (err error) {
	zipFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		zipFile.Close()
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	zw := zip.NewWriter(zipFile)
	for _, fp := range filePaths {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err = addFileToArchive(zw, fp); err != nil {
			return fmt.Errorf("add %s to archive: %w", fp, err)
		}
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func addFileToArchive(zw *zip.Writer, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filename)
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}
