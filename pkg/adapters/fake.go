package adapters

import (
	"context"
	"sync/atomic"

	"github.com/clipforge/pipeline/pkg/artifact"
)

// FakeFetcher is a configurable Fetcher for tests, mirroring the llm/mock
// provider's fixed-response-or-error style.
type FakeFetcher struct {
	Response *artifact.VideoArtifact
	Err      error
	calls    atomic.Int32
}

func (f *FakeFetcher) Fetch(ctx context.Context, url, outputDir, quality string) (*artifact.VideoArtifact, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

func (f *FakeFetcher) Calls() int { return int(f.calls.Load()) }

// FakeAudioExtractor is a configurable AudioExtractor for tests.
type FakeAudioExtractor struct {
	Response *artifact.AudioArtifact
	Err      error
}

func (f *FakeAudioExtractor) ExtractAudio(ctx context.Context, videoPath string) (*artifact.AudioArtifact, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

// FakeTranscriber is a configurable Transcriber for tests.
type FakeTranscriber struct {
	Response *artifact.TranscriptionResult
	Err      error
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, audioPath, language string, diarize bool) (*artifact.TranscriptionResult, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

// FakeSubtitleWriter is a configurable SubtitleWriter for tests.
type FakeSubtitleWriter struct {
	Path string
	Err  error
}

func (f *FakeSubtitleWriter) WriteSubtitles(ctx context.Context, segments []artifact.TranslatedSegment, style string, format SubtitleFormat) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Path, nil
}

// FakeVideoEditor is a configurable VideoEditor for tests.
type FakeVideoEditor struct {
	Response *artifact.EditedVideo
	Err      error
}

func (f *FakeVideoEditor) Edit(ctx context.Context, videoPath string, segments []artifact.EditSegment, subtitlePath string) (*artifact.EditedVideo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}
