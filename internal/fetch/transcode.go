package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultFFmpegBinary     = "ffmpeg"
	DefaultTranscodeTimeout = 10 * time.Minute

	DownloadAudioBitrate = "192k"
	AnalysisAudioBitrate = "128k"

	mp3Codec = "libmp3lame"
)

// Transcoder converts a media file to MP3 at the given bitrate.
type Transcoder interface {
	ToMP3(ctx context.Context, inputPath, outputPath, bitrate string) error
}

type FFmpegConfig struct {
	BinaryPath string
	Timeout    time.Duration
}

// FFmpegTranscoder runs ffmpeg as a scoped subprocess.
type FFmpegTranscoder struct {
	binaryPath string
	timeout    time.Duration
}

func NewFFmpegTranscoder(config FFmpegConfig) *FFmpegTranscoder {
	if strings.TrimSpace(config.BinaryPath) == "" {
		config.BinaryPath = DefaultFFmpegBinary
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTranscodeTimeout
	}
	return &FFmpegTranscoder{binaryPath: config.BinaryPath, timeout: config.Timeout}
}

func (t *FFmpegTranscoder) ToMP3(ctx context.Context, inputPath, outputPath, bitrate string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binaryPath, BuildMP3Args(inputPath, outputPath, bitrate)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 300 {
			detail = detail[len(detail)-300:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, detail)
	}
	return nil
}

// BuildMP3Args builds the ffmpeg argument list for an audio-only MP3 encode.
func BuildMP3Args(inputPath, outputPath, bitrate string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-c:a", mp3Codec,
		"-b:a", bitrate,
		outputPath,
	}
}
