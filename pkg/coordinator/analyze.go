package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/llmrouter"
	"github.com/clipforge/pipeline/pkg/responseparser"
	"github.com/tidwall/gjson"
)

type highlightLine struct {
	StartSegmentID int     `json:"start_segment_id"`
	EndSegmentID   int     `json:"end_segment_id"`
	Score          float64 `json:"score"`
	Reason         string  `json:"reason"`
	Category       string  `json:"category"`
	SuggestedTitle string  `json:"suggested_title"`
}

type highlightResponse struct {
	Highlights []highlightLine `json:"highlights"`
}

type chapterLine struct {
	ID         int     `json:"id"`
	StartS     float64 `json:"start_s"`
	EndS       float64 `json:"end_s"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	SegmentIDs []int   `json:"segment_ids"`
}

type chapterResponse struct {
	Chapters []chapterLine `json:"chapters"`
}

func detectHighlights(ctx context.Context, router *llmrouter.Router, segments []artifact.Segment) ([]artifact.Highlight, error) {
	result, err := router.Execute(ctx, llmrouter.Request{
		Task:   llmrouter.TaskHighlightDetection,
		Prompt: buildAnalysisPrompt(segments, "highlight"),
		Schema: responseparser.Schema{Required: map[string]gjson.Type{"highlights": gjson.JSON}},
	})
	if err != nil {
		return nil, err
	}

	var resp highlightResponse
	if err := json.Unmarshal([]byte(result.Raw), &resp); err != nil {
		return nil, fmt.Errorf("analyze: decode highlights: %w", err)
	}

	out := make([]artifact.Highlight, len(resp.Highlights))
	for i, h := range resp.Highlights {
		out[i] = artifact.Highlight{
			StartSegmentID: h.StartSegmentID,
			EndSegmentID:   h.EndSegmentID,
			Score:          h.Score,
			Reason:         h.Reason,
			Category:       h.Category,
			SuggestedTitle: h.SuggestedTitle,
		}
	}
	return out, nil
}

func detectChapters(ctx context.Context, router *llmrouter.Router, segments []artifact.Segment) ([]artifact.Chapter, error) {
	result, err := router.Execute(ctx, llmrouter.Request{
		Task:   llmrouter.TaskChapterDetection,
		Prompt: buildAnalysisPrompt(segments, "chapter"),
		Schema: responseparser.Schema{Required: map[string]gjson.Type{"chapters": gjson.JSON}},
	})
	if err != nil {
		return nil, err
	}

	var resp chapterResponse
	if err := json.Unmarshal([]byte(result.Raw), &resp); err != nil {
		return nil, fmt.Errorf("analyze: decode chapters: %w", err)
	}

	out := make([]artifact.Chapter, len(resp.Chapters))
	for i, ch := range resp.Chapters {
		out[i] = artifact.Chapter{
			ID:         ch.ID,
			StartS:     ch.StartS,
			EndS:       ch.EndS,
			Title:      ch.Title,
			Summary:    ch.Summary,
			SegmentIDs: ch.SegmentIDs,
		}
	}
	return out, nil
}

func buildAnalysisPrompt(segments []artifact.Segment, kind string) string {
	var b strings.Builder
	switch kind {
	case "highlight":
		b.WriteString("Identify the most engaging highlight spans in this transcript.\n")
		b.WriteString(`Respond with JSON: {"highlights": [{"start_segment_id": int, "end_segment_id": int, "score": number, "reason": string, "category": string, "suggested_title": string}, ...]}.` + "\n\n")
	case "chapter":
		b.WriteString("Divide this transcript into chapters covering every segment exactly once.\n")
		b.WriteString(`Respond with JSON: {"chapters": [{"id": int, "start_s": number, "end_s": number, "title": string, "summary": string, "segment_ids": [int, ...]}, ...]}.` + "\n\n")
	}
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%d] (%.1f-%.1f) %s\n", seg.ID, seg.StartS, seg.EndS, seg.Text)
	}
	return b.String()
}
