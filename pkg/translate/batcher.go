// Package translate implements chunked, overlap-aware segment translation
// with partial-success accounting and post-translation quality checks.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/llmrouter"
	"github.com/clipforge/pipeline/pkg/responseparser"
	"github.com/tidwall/gjson"
)

// Config tunes chunking, retry, and quality behavior. Zero values are
// replaced with spec defaults by New.
type Config struct {
	MaxTokensPerChunk  int
	OverlapSegments    int
	MinSuccessRate     float64
	MaxRetriesPerChunk int
	SourceLang         string
	TargetLang         string
}

func (c Config) withDefaults() Config {
	if c.MaxTokensPerChunk <= 0 {
		c.MaxTokensPerChunk = 4000
	}
	if c.OverlapSegments <= 0 {
		c.OverlapSegments = 2
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.8
	}
	if c.MaxRetriesPerChunk <= 0 {
		c.MaxRetriesPerChunk = 2
	}
	return c
}

// PartialTranslationResult is the outcome of translating a set of
// segments, including segments that failed permanently after retries.
type PartialTranslationResult struct {
	Successful  []artifact.TranslatedSegment
	Failed      []artifact.TranslatedSegment
	SuccessRate float64
}

// Batcher partitions segments into token-bounded, overlap-carrying chunks,
// translates them via an LLMRouter, and aggregates partial failures.
type Batcher struct {
	router *llmrouter.Router
	cfg    Config
}

// New creates a Batcher that routes translation requests through router.
func New(router *llmrouter.Router, cfg Config) *Batcher {
	return &Batcher{router: router, cfg: cfg.withDefaults()}
}

// MinSuccessRate returns the configured success-rate threshold callers
// should compare PartialTranslationResult.SuccessRate against.
func (b *Batcher) MinSuccessRate() float64 {
	return b.cfg.MinSuccessRate
}

// chunk is a contiguous run of segments to translate together, plus the
// trailing segments from the previous chunk kept as context only. A
// chunk is oversized when it holds exactly one segment whose own
// estimated token count already exceeds MaxTokensPerChunk — Chunk never
// splits such a segment further, but flags it so the translated result
// carries that fact forward.
type chunk struct {
	segments  []artifact.Segment
	context   []artifact.Segment
	oversized bool
}

// Chunk partitions segments into token-bounded chunks, carrying the last
// OverlapSegments segments of each chunk forward as context for the next.
func (b *Batcher) Chunk(segments []artifact.Segment) []chunk {
	var chunks []chunk
	var current []artifact.Segment
	tokens := 0.0
	oversizedIDs := make(map[int]bool)

	flush := func() {
		if len(current) == 0 {
			return
		}
		c := chunk{segments: current}
		if len(current) == 1 && oversizedIDs[current[0].ID] {
			c.oversized = true
		}
		chunks = append(chunks, c)
		current = nil
		tokens = 0
	}

	for _, seg := range segments {
		est := estimateTokens(seg.Text)
		if tokens+est > float64(b.cfg.MaxTokensPerChunk) && len(current) > 0 {
			flush()
		}
		if len(current) == 0 && est > float64(b.cfg.MaxTokensPerChunk) {
			oversizedIDs[seg.ID] = true
		}
		current = append(current, seg)
		tokens += est
	}
	flush()

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].segments
		n := b.cfg.OverlapSegments
		if n > len(prev) {
			n = len(prev)
		}
		chunks[i].context = prev[len(prev)-n:]
	}
	return chunks
}

// estimateTokens applies the mixed-script heuristic: ideographic runs
// count 1.5 tokens per character, everything else 1.3 tokens per word.
func estimateTokens(text string) float64 {
	var ideographicChars int
	var rest strings.Builder
	for _, r := range text {
		if isIdeographic(r) {
			ideographicChars++
		} else {
			rest.WriteRune(r)
		}
	}
	words := len(strings.Fields(rest.String()))
	return float64(ideographicChars)*1.5 + float64(words)*1.3
}

func isIdeographic(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

type translationLine struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type chunkResponse struct {
	Translations []translationLine `json:"translations"`
}

// Translate translates every segment in segments, chunking and retrying
// as needed, and returns the aggregated partial result.
func (b *Batcher) Translate(ctx context.Context, segments []artifact.Segment) (*PartialTranslationResult, error) {
	return b.TranslateResumable(ctx, segments, nil, nil)
}

// TranslateResumable is Translate with item-level checkpoint support: any
// segment already present in done is reused as-is rather than re-sent to
// the LLM, and onItemDone — when non-nil — is called once per segment as
// soon as its outcome (success or permanent failure) settles, so a caller
// can persist that segment's id before the rest of the stage continues.
func (b *Batcher) TranslateResumable(ctx context.Context, segments []artifact.Segment, done map[int]artifact.TranslatedSegment, onItemDone func(artifact.TranslatedSegment)) (*PartialTranslationResult, error) {
	byID := make(map[int]artifact.TranslatedSegment, len(segments))

	var pending []artifact.Segment
	for _, seg := range segments {
		if ts, ok := done[seg.ID]; ok {
			byID[seg.ID] = ts
			continue
		}
		pending = append(pending, seg)
	}

	settle := func(seg artifact.Segment, ts artifact.TranslatedSegment, oversized bool) {
		if oversized {
			ts.QualityFlags = append(ts.QualityFlags, "oversized_segment")
		}
		validate(&ts)
		byID[seg.ID] = ts
		if onItemDone != nil {
			onItemDone(ts)
		}
	}

	for _, c := range b.Chunk(pending) {
		lines, err := b.translateChunk(ctx, c)
		if err != nil {
			// Whole-chunk failure: retry each segment individually.
			for _, seg := range c.segments {
				line, segErr := b.translateChunk(ctx, chunk{segments: []artifact.Segment{seg}})
				if segErr != nil || len(line) == 0 {
					settle(seg, failedSegment(seg), c.oversized)
					continue
				}
				settle(seg, toTranslated(seg, line[0].Text), c.oversized)
			}
			continue
		}
		for _, line := range lines {
			seg, ok := segmentByID(c.segments, line.ID)
			if !ok {
				continue
			}
			settle(seg, toTranslated(seg, line.Text), c.oversized)
		}
		// Any segment the model silently dropped from its response is
		// retried individually rather than silently lost.
		for _, seg := range c.segments {
			if _, ok := byID[seg.ID]; ok {
				continue
			}
			line, segErr := b.translateChunk(ctx, chunk{segments: []artifact.Segment{seg}})
			if segErr != nil || len(line) == 0 {
				settle(seg, failedSegment(seg), c.oversized)
				continue
			}
			settle(seg, toTranslated(seg, line[0].Text), c.oversized)
		}
	}

	var successful, failed []artifact.TranslatedSegment
	for _, seg := range segments {
		ts := byID[seg.ID]
		if isFailed(ts) {
			failed = append(failed, ts)
		} else {
			successful = append(successful, ts)
		}
	}
	sortByID(successful)
	sortByID(failed)

	total := len(segments)
	rate := 1.0
	if total > 0 {
		rate = float64(len(successful)) / float64(total)
	}

	return &PartialTranslationResult{
		Successful:  successful,
		Failed:      failed,
		SuccessRate: rate,
	}, nil
}

func segmentByID(segs []artifact.Segment, id int) (artifact.Segment, bool) {
	for _, s := range segs {
		if s.ID == id {
			return s, true
		}
	}
	return artifact.Segment{}, false
}

func toTranslated(seg artifact.Segment, translated string) artifact.TranslatedSegment {
	return artifact.TranslatedSegment{
		ID:         seg.ID,
		Original:   seg.Text,
		Translated: translated,
		StartS:     seg.StartS,
		EndS:       seg.EndS,
	}
}

func failedSegment(seg artifact.Segment) artifact.TranslatedSegment {
	return artifact.TranslatedSegment{
		ID:           seg.ID,
		Original:     seg.Text,
		Translated:   seg.Text,
		StartS:       seg.StartS,
		EndS:         seg.EndS,
		QualityFlags: []string{"translation_failed"},
	}
}

func isFailed(ts artifact.TranslatedSegment) bool {
	for _, f := range ts.QualityFlags {
		if f == "translation_failed" {
			return true
		}
	}
	return false
}

func sortByID(ts []artifact.TranslatedSegment) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}

// translateChunk sends one chunk's segments, marking context segments as
// context-only in the prompt, and parses the model's line-per-segment
// response.
func (b *Batcher) translateChunk(ctx context.Context, c chunk) ([]translationLine, error) {
	if len(c.segments) == 0 {
		return nil, nil
	}
	prompt := buildPrompt(c, b.cfg.SourceLang, b.cfg.TargetLang)

	result, err := b.router.Execute(ctx, llmrouter.Request{
		Task:   llmrouter.TaskTranslation,
		Prompt: prompt,
		Schema: responseSchema(),
	})
	if err != nil {
		return nil, err
	}

	var resp chunkResponse
	if err := json.Unmarshal([]byte(result.Raw), &resp); err != nil {
		return nil, fmt.Errorf("translate: decode response: %w", err)
	}
	return resp.Translations, nil
}

func buildPrompt(c chunk, sourceLang, targetLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following segments from %s to %s.\n", sourceLang, targetLang)
	fmt.Fprintf(&b, `Respond with JSON: {"translations": [{"id": int, "text": string}, ...]}.`)
	b.WriteString("\nOnly include an entry for each segment to translate, not for context segments.\n\n")

	if len(c.context) > 0 {
		b.WriteString("Context only (do not translate these, id):\n")
		for _, seg := range c.context {
			fmt.Fprintf(&b, "[%d] %s\n", seg.ID, seg.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Segments to translate:\n")
	for _, seg := range c.segments {
		fmt.Fprintf(&b, "[%d] %s\n", seg.ID, seg.Text)
	}
	return b.String()
}

func responseSchema() responseparser.Schema {
	return responseparser.Schema{Required: map[string]gjson.Type{"translations": gjson.JSON}}
}
