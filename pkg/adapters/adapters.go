// Package adapters declares the narrow external-collaborator interfaces
// the pipeline depends on: fetching source video, extracting audio,
// transcribing speech, writing subtitle files, and editing/exporting
// video. Concrete implementations (yt-dlp wrappers, ffmpeg invocations,
// a speech-to-text client) live outside this module; this package only
// fixes the contract the coordinator programs against.
package adapters

import (
	"context"

	"github.com/clipforge/pipeline/pkg/artifact"
)

// Fetcher downloads source video from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url, outputDir string, quality string) (*artifact.VideoArtifact, error)
}

// AudioExtractor produces a 16kHz mono 16-bit PCM WAV from a video file.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (*artifact.AudioArtifact, error)
}

// Transcriber converts an audio file into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string, diarize bool) (*artifact.TranscriptionResult, error)
}

// SubtitleFormat names a subtitle serialization.
type SubtitleFormat string

const (
	SubtitleSRT SubtitleFormat = "SRT"
	SubtitleASS SubtitleFormat = "ASS"
	SubtitleVTT SubtitleFormat = "VTT"
)

// SubtitleWriter renders translated segments to a subtitle file.
type SubtitleWriter interface {
	WriteSubtitles(ctx context.Context, segments []artifact.TranslatedSegment, style string, format SubtitleFormat) (string, error)
}

// VideoEditor applies edit segments (and optional subtitles) to a source
// video, producing the final encoded output.
type VideoEditor interface {
	Edit(ctx context.Context, videoPath string, segments []artifact.EditSegment, subtitlePath string) (*artifact.EditedVideo, error)
}
