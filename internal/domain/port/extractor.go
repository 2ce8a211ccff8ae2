package port

import "context"

// FrameExtractor turns a local video file into a compressed archive of
// extracted frames, written into outputDir. It returns the archive's
// filename, not its full path.
type FrameExtractor interface {
	ExtractArchive(ctx context.Context, videoPath, outputDir string) (string, error)
}
