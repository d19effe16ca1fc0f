package translate

import (
	"strings"
	"unicode"

	"github.com/clipforge/pipeline/pkg/artifact"
)

const (
	minLengthRatio      = 0.3
	maxLengthRatio      = 2.0
	lowConfidenceCutoff = 0.7
	residueRunLength    = 4
)

var errorMarkers = []string{
	"[error]", "<error>", "translation failed", "translation unavailable",
	"todo: translate", "n/a",
}

// validate sets ts.Confidence and appends quality flags per spec's
// post-translation checks: length-ratio bounds, source-language residue,
// and placeholder/error-marker detection. Segments already marked
// translation_failed are left untouched.
func validate(ts *artifact.TranslatedSegment) {
	if isFailed(*ts) {
		return
	}

	confidence := 1.0

	if containsErrorMarker(ts.Translated) {
		confidence = 0
		ts.QualityFlags = append(ts.QualityFlags, "error_marker_detected")
	} else {
		if ratio := lengthRatio(ts.Original, ts.Translated); ratio < minLengthRatio || ratio > maxLengthRatio {
			confidence /= 2
			ts.QualityFlags = append(ts.QualityFlags, "length_ratio_out_of_range")
		}
		if hasSourceResidue(ts.Translated) {
			confidence /= 2
			ts.QualityFlags = append(ts.QualityFlags, "source_language_residue")
		}
	}

	ts.Confidence = confidence
	if confidence < lowConfidenceCutoff {
		ts.QualityFlags = append(ts.QualityFlags, "low_confidence")
	}
}

func lengthRatio(original, translated string) float64 {
	if len([]rune(original)) == 0 {
		return 1.0
	}
	return float64(len([]rune(translated))) / float64(len([]rune(original)))
}

// hasSourceResidue flags a translation that is mostly ideographic target
// text but still contains a long run of untranslated Latin letters.
func hasSourceResidue(translated string) bool {
	ideographicCount := 0
	for _, r := range translated {
		if isIdeographic(r) {
			ideographicCount++
		}
	}
	if ideographicCount == 0 {
		return false
	}

	run := 0
	for _, r := range translated {
		if unicode.Is(unicode.Latin, r) && unicode.IsLetter(r) {
			run++
			if run >= residueRunLength {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func containsErrorMarker(translated string) bool {
	lower := strings.ToLower(translated)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
