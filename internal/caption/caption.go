// Package caption converts transcription documents into caption files.
//
// Every cue holds exactly one line of at most MaxLineLength characters. A
// segment longer than that is split at word boundaries and its time span is
// shared between the lines in proportion to their length.
//
// Segments whose confidence is below MinConfidence produce no cue. Their time
// is absorbed by the previous cue, which is extended up to the start of the
// next visible segment, so dropping a segment never opens a gap in the
// captions. Leading dropped segments pull the start of the first cue back
// instead.
package caption

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/satriahrh/azscribe/domain/entities"
)

// Format is a caption file format
type Format string

const (
	FormatWebVTT Format = "vtt"
	FormatSRT    Format = "srt"
)

const DefaultMaxLineLength = 100

// ParseFormat accepts vtt/webvtt and srt/subrip, case insensitive
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vtt", "webvtt":
		return FormatWebVTT, nil
	case "srt", "subrip":
		return FormatSRT, nil
	}
	return "", fmt.Errorf("unsupported caption format %q", s)
}

// Flavor returns the attachment flavor downstream consumers look for
func (f Format) Flavor() string {
	return "captions/" + string(f)
}

func (f Format) MimeType() string {
	if f == FormatSRT {
		return "application/x-subrip"
	}
	return "text/vtt"
}

func (f Format) Extension() string {
	return "." + string(f)
}

// Options controls cue generation
type Options struct {
	MinConfidence float64
	MaxLineLength int
}

// Cue is one timed caption line
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// BuildCues turns the segments of doc into cues
func BuildCues(doc *entities.TranscriptionDocument, opts Options) []Cue {
	maxLen := opts.MaxLineLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}

	segments := doc.Segments
	visible := func(s entities.Segment) bool {
		return s.Confidence >= opts.MinConfidence
	}

	var cues []Cue
	var carry time.Duration
	hasCarry := false

	for i, seg := range segments {
		if !visible(seg) {
			if len(cues) == 0 {
				if !hasCarry || seg.Offset < carry {
					carry, hasCarry = seg.Offset, true
				}
				continue
			}
			end := seg.End()
			for _, next := range segments[i+1:] {
				if visible(next) {
					if next.Offset < end {
						end = next.Offset
					}
					break
				}
			}
			if last := &cues[len(cues)-1]; end > last.End {
				last.End = end
			}
			continue
		}

		lines := SplitLines(seg.Text, maxLen)
		if len(lines) == 0 {
			continue
		}
		start := seg.Offset
		if hasCarry && carry < start {
			start = carry
		}
		hasCarry = false
		cues = append(cues, timeLines(lines, start, seg.End())...)
	}
	return cues
}

// SplitLines breaks text at word boundaries into lines of at most maxLen
// characters. Words longer than maxLen are split hard.
func SplitLines(text string, maxLen int) []string {
	words := strings.Fields(text)
	if maxLen <= 0 {
		if len(words) == 0 {
			return nil
		}
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	var line strings.Builder
	lineLen := 0
	flush := func() {
		if lineLen > 0 {
			lines = append(lines, line.String())
			line.Reset()
			lineLen = 0
		}
	}

	for _, word := range words {
		for utf8.RuneCountInString(word) > maxLen {
			flush()
			head, tail := splitRunes(word, maxLen)
			lines = append(lines, head)
			word = tail
		}
		n := utf8.RuneCountInString(word)
		if lineLen > 0 && lineLen+1+n > maxLen {
			flush()
		}
		if lineLen > 0 {
			line.WriteByte(' ')
			lineLen++
		}
		line.WriteString(word)
		lineLen += n
	}
	flush()
	return lines
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// timeLines spreads [start, end] over lines by character count. The last
// line always ends exactly at end.
func timeLines(lines []string, start, end time.Duration) []Cue {
	if end < start {
		end = start
	}
	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l)
	}

	span := int64(end - start)
	cues := make([]Cue, 0, len(lines))
	cursor, cum := start, 0
	for i, l := range lines {
		cum += utf8.RuneCountInString(l)
		lineEnd := start + time.Duration(span*int64(cum)/int64(total))
		if i == len(lines)-1 {
			lineEnd = end
		}
		cues = append(cues, Cue{Start: cursor, End: lineEnd, Text: l})
		cursor = lineEnd
	}
	return cues
}

// Write renders cues in the given format
func Write(w io.Writer, format Format, cues []Cue) error {
	var b strings.Builder
	switch format {
	case FormatWebVTT:
		b.WriteString("WEBVTT\n\n")
		for _, c := range cues {
			fmt.Fprintf(&b, "%s --> %s\n%s\n\n", formatVTTTime(c.Start), formatVTTTime(c.End), c.Text)
		}
	case FormatSRT:
		for i, c := range cues {
			fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(c.Start), formatSRTTime(c.End), c.Text)
		}
	default:
		return fmt.Errorf("unsupported caption format %q", format)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Convert builds cues from doc and renders them
func Convert(doc *entities.TranscriptionDocument, format Format, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, BuildCues(doc, opts)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatVTTTime formats HH:MM:SS.mmm
func formatVTTTime(d time.Duration) string {
	h, m, s, ms := clock(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// formatSRTTime formats HH:MM:SS,mmm
func formatSRTTime(d time.Duration) string {
	h, m, s, ms := clock(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func clock(d time.Duration) (h, m, s, ms int64) {
	if d < 0 {
		d = 0
	}
	total := d.Milliseconds()
	return total / 3600000, total / 60000 % 60, total / 1000 % 60, total % 1000
}
