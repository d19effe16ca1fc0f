package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/perr"
	"github.com/clipforge/pipeline/pkg/resource"
	"github.com/clipforge/pipeline/pkg/stage"
)

// defaultAcquireTimeout bounds how long a stage waits for a resource gate
// slot before failing as resource_exhausted.
const defaultAcquireTimeout = 30 * time.Second

func (c *Coordinator) runFetch(ctx context.Context, rs *runState) error {
	video, err := c.deps.Fetcher.Fetch(ctx, rs.url, rs.cfg.OutputDir, rs.cfg.Quality)
	if err != nil {
		return err
	}
	rs.proj.Video = *video
	rs.proj.SourceURL = rs.url
	return nil
}

func (c *Coordinator) runExtractAudio(ctx context.Context, rs *runState) error {
	if c.deps.Gate != nil {
		ticket, err := c.deps.Gate.AcquireWithTimeout(ctx, resource.JobKindEncode, defaultAcquireTimeout)
		if err != nil {
			return perr.New(perr.KindResourceExhausted, "EXTRACT_AUDIO", err, "resource gate timeout")
		}
		defer ticket.Release()
	}

	audio, err := c.deps.AudioExtractor.ExtractAudio(ctx, rs.proj.Video.Path)
	if err != nil {
		return err
	}
	rs.cp.CurrentItem = audio.Path
	return nil
}

func (c *Coordinator) runTranscribe(ctx context.Context, rs *runState) error {
	result, err := c.deps.Transcriber.Transcribe(ctx, rs.proj.Video.Path, rs.cfg.Language, rs.cfg.Diarize)
	if err != nil {
		return err
	}
	rs.proj.Transcription = *result
	return nil
}

func (c *Coordinator) runAnalyze(ctx context.Context, rs *runState) error {
	highlights, err := detectHighlights(ctx, c.deps.Router, rs.proj.Transcription.Segments)
	if err != nil {
		return err
	}
	chapters, err := detectChapters(ctx, c.deps.Router, rs.proj.Transcription.Segments)
	if err != nil {
		return err
	}
	rs.proj.Highlights = highlights
	rs.proj.Chapters = chapters
	return nil
}

// runAwaitSelection blocks on the externally provided selection callback.
// If none is configured, the coordinator returns after persisting the
// checkpoint, letting the caller resume later via RunFromCheckpoint once
// a selection has been recorded out of band.
func (c *Coordinator) runAwaitSelection(ctx context.Context, rs *runState) error {
	if rs.cfg.Select == nil {
		return nil
	}
	edits, err := rs.cfg.Select(ctx, rs.proj)
	if err != nil {
		return err
	}
	rs.proj.EditSegments = edits
	return nil
}

func (c *Coordinator) runTranslate(ctx context.Context, rs *runState) error {
	segments := selectedSegments(rs.proj)

	// Segments already recorded in the checkpoint's completed_items, and
	// for which the prior attempt's translated text survived (carried in
	// rs.proj.TranslatedSegments via a resumed project), are skipped
	// instead of re-sent to the LLM.
	done := make(map[int]artifact.TranslatedSegment)
	for _, ts := range rs.proj.TranslatedSegments {
		if rs.cp.HasCompleted(strconv.Itoa(ts.ID)) {
			done[ts.ID] = ts
		}
	}

	onItemDone := func(ts artifact.TranslatedSegment) {
		rs.proj.TranslatedSegments = upsertTranslated(rs.proj.TranslatedSegments, ts)
		rs.cp.MarkCompleted(strconv.Itoa(ts.ID))
		_ = c.deps.Checkpoints.Save(rs.cp)
	}

	result, err := c.deps.Translator.TranslateResumable(ctx, segments, done, onItemDone)
	if err != nil {
		return err
	}
	if result.SuccessRate < c.deps.Translator.MinSuccessRate() {
		return perr.New(perr.KindPartialFailure, "TRANSLATE", nil,
			fmt.Sprintf("translation success rate %.2f below threshold %.2f", result.SuccessRate, c.deps.Translator.MinSuccessRate()))
	}

	all := append([]artifact.TranslatedSegment{}, result.Successful...)
	all = append(all, result.Failed...)
	sortTranslatedByID(all)
	rs.proj.TranslatedSegments = all
	return nil
}

// upsertTranslated replaces the entry for ts.ID if present, or appends it
// otherwise, so item-level checkpoint callbacks can be applied repeatedly
// without duplicating segments.
func upsertTranslated(segs []artifact.TranslatedSegment, ts artifact.TranslatedSegment) []artifact.TranslatedSegment {
	for i, existing := range segs {
		if existing.ID == ts.ID {
			segs[i] = ts
			return segs
		}
	}
	return append(segs, ts)
}

func sortTranslatedByID(segs []artifact.TranslatedSegment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].ID < segs[j].ID })
}

// selectedSegments returns the segments covered by the user's edit
// selection, or every transcribed segment if no selection was made.
func selectedSegments(proj *artifact.Project) []artifact.Segment {
	if len(proj.EditSegments) == 0 {
		return proj.Transcription.Segments
	}
	var out []artifact.Segment
	for _, seg := range proj.Transcription.Segments {
		for _, e := range proj.EditSegments {
			if float64(seg.ID) >= 0 && seg.StartS >= e.StartS && seg.EndS <= e.EndS {
				out = append(out, seg)
				break
			}
		}
	}
	if len(out) == 0 {
		return proj.Transcription.Segments
	}
	return out
}

func (c *Coordinator) runGenerateSubtitles(ctx context.Context, rs *runState) error {
	format := rs.cfg.SubtitleFormat
	if format == "" {
		format = "SRT"
	}
	segments := optimizeSubtitleTiming(rs.proj.TranslatedSegments)
	path, err := c.deps.SubtitleWriter.WriteSubtitles(ctx, segments, rs.cfg.SubtitleStyle, format)
	if err != nil {
		return err
	}
	rs.cp.CurrentItem = path
	return nil
}

const (
	// minSubtitleDurationS is the shortest a subtitle cue may display for,
	// per spec's boundary behavior; shorter cues are extended.
	minSubtitleDurationS = 1.0
	// minSubtitleGapS is the minimum gap an extended cue must leave before
	// the next cue's start, so adjacent cues never touch or overlap.
	minSubtitleGapS = 0.1
)

// optimizeSubtitleTiming extends any segment shorter than
// minSubtitleDurationS up to that minimum, stopping short of encroaching
// on the following segment's start by less than minSubtitleGapS. Segment
// order and start times are never altered.
func optimizeSubtitleTiming(segments []artifact.TranslatedSegment) []artifact.TranslatedSegment {
	if len(segments) == 0 {
		return segments
	}
	out := make([]artifact.TranslatedSegment, len(segments))
	copy(out, segments)

	for i := range out {
		if out[i].EndS-out[i].StartS >= minSubtitleDurationS {
			continue
		}
		want := out[i].StartS + minSubtitleDurationS
		if i+1 < len(out) {
			if limit := out[i+1].StartS - minSubtitleGapS; want > limit {
				want = limit
			}
		}
		if want > out[i].EndS {
			out[i].EndS = want
		}
	}
	return out
}

func (c *Coordinator) runEditVideo(ctx context.Context, rs *runState) error {
	if c.deps.Gate != nil {
		ticket, err := c.deps.Gate.AcquireWithTimeout(ctx, resource.JobKindEncode, defaultAcquireTimeout)
		if err != nil {
			return perr.New(perr.KindResourceExhausted, "EDIT_VIDEO", err, "resource gate timeout")
		}
		defer ticket.Release()
	}

	segments := rs.proj.EditSegments
	if len(segments) == 0 {
		segments = []artifact.EditSegment{{ID: 1, StartS: 0, EndS: rs.proj.Video.Duration}}
	}

	edited, err := c.deps.VideoEditor.Edit(ctx, rs.proj.Video.Path, segments, rs.cp.CurrentItem)
	if err != nil {
		return err
	}
	rs.proj.Videos = append(rs.proj.Videos, *edited)
	return nil
}

func (c *Coordinator) runExport(ctx context.Context, rs *runState) error {
	runner := stage.New(1.0)
	items := make([]string, len(rs.proj.Videos))
	outputs := make(map[string]string, len(rs.proj.Videos))
	for i, v := range rs.proj.Videos {
		items[i] = strconv.Itoa(i)
		outputs[items[i]] = v.Path
	}

	result, err := runner.Run(ctx, items, func(ctx context.Context, item string) (any, error) {
		return outputs[item], nil
	}, nil, nil, nil)
	if err != nil {
		return err
	}
	if result.Status == stage.StatusFailed {
		return perr.New(perr.KindPartialFailure, "EXPORT", nil, "export produced no files")
	}

	var files []string
	for _, v := range result.Successful {
		files = append(files, v.(string))
	}
	for _, f := range files {
		rs.cp.MarkCompleted(f)
	}
	return nil
}
