// Package subtitle converts timed transcript segments into caption files.
package subtitle

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/reelkit/reelkit/internal/apperr"
)

type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Segment struct {
	Index          int      `json:"segment_index"`
	Start          float64  `json:"start_time"`
	End            float64  `json:"end_time"`
	Text           string   `json:"text"`
	TextTranslated string   `json:"text_translated,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Words          []Word   `json:"words,omitzero"`
}

// UnmarshalJSON also accepts the legacy "text_english" key for the
// translated line.
func (s *Segment) UnmarshalJSON(data []byte) error {
	type plain Segment
	var aux struct {
		plain
		TextEnglish string `json:"text_english"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Segment(aux.plain)
	if s.TextTranslated == "" {
		s.TextTranslated = aux.TextEnglish
	}
	return nil
}

// Validate rejects a segment or word whose end precedes its start.
func (s Segment) Validate() error {
	if s.End < s.Start {
		return &apperr.SegmentTimingError{Index: s.Index, Word: -1, Start: s.Start, End: s.End}
	}
	for i, w := range s.Words {
		if w.End < w.Start {
			return &apperr.SegmentTimingError{Index: s.Index, Word: i, Start: w.Start, End: w.End}
		}
	}
	return nil
}

// PlainText joins trimmed segment texts, one per line.
func PlainText(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, strings.TrimSpace(s.Text))
	}
	return strings.Join(lines, "\n")
}

// srtTime formats seconds as HH:MM:SS,mmm (sep ',') or HH:MM:SS.mmm.
func srtTime(sec float64, sep byte) string {
	ms := int64(math.Round(math.Max(sec, 0) * 1000))
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, sep, ms%1000)
}

// assTime formats seconds as H:MM:SS.cc.
func assTime(sec float64) string {
	cs := int64(math.Round(math.Max(sec, 0) * 100))
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360_000, cs/6000%60, cs/100%60, cs%100)
}
