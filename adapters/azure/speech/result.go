package speech

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/satriahrh/azscribe/domain/entities"
)

// A tick is 100 nanoseconds
const tick = 100 * time.Nanosecond

type resultJSON struct {
	Source            string       `json:"source"`
	DurationInTicks   float64      `json:"durationInTicks"`
	RecognizedPhrases []phraseJSON `json:"recognizedPhrases"`
}

type phraseJSON struct {
	RecognitionStatus string      `json:"recognitionStatus"`
	Channel           int         `json:"channel"`
	OffsetInTicks     float64     `json:"offsetInTicks"`
	DurationInTicks   float64     `json:"durationInTicks"`
	Locale            string      `json:"locale"`
	NBest             []nbestJSON `json:"nBest"`
}

type nbestJSON struct {
	Confidence float64 `json:"confidence"`
	Lexical    string  `json:"lexical"`
	Display    string  `json:"display"`
}

// ParseTranscriptionDocument reads a transcription result file. Every phrase
// becomes one segment carrying its best recognition alternative.
func ParseTranscriptionDocument(r io.Reader) (*entities.TranscriptionDocument, error) {
	var result resultJSON
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode transcription result: %w", err)
	}

	doc := &entities.TranscriptionDocument{
		Source:   result.Source,
		Duration: ticks(result.DurationInTicks),
	}

	for _, phrase := range result.RecognizedPhrases {
		if phrase.RecognitionStatus != "" && phrase.RecognitionStatus != "Success" {
			continue
		}
		best, ok := bestAlternative(phrase.NBest)
		if !ok {
			continue
		}
		text := strings.TrimSpace(best.Display)
		if text == "" {
			continue
		}
		doc.Segments = append(doc.Segments, entities.Segment{
			Text:       text,
			Offset:     ticks(phrase.OffsetInTicks),
			Duration:   ticks(phrase.DurationInTicks),
			Confidence: best.Confidence,
			Locale:     phrase.Locale,
		})
	}

	sort.SliceStable(doc.Segments, func(i, j int) bool {
		return doc.Segments[i].Offset < doc.Segments[j].Offset
	})
	doc.RecognizedLocale = dominantLocale(doc.Segments)
	return doc, nil
}

func bestAlternative(alternatives []nbestJSON) (nbestJSON, bool) {
	if len(alternatives) == 0 {
		return nbestJSON{}, false
	}
	best := alternatives[0]
	for _, a := range alternatives[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best, true
}

// dominantLocale returns the locale of most segments; ties go to the locale seen first
func dominantLocale(segments []entities.Segment) string {
	counts := make(map[string]int)
	var order []string
	for _, s := range segments {
		if s.Locale == "" {
			continue
		}
		if counts[s.Locale] == 0 {
			order = append(order, s.Locale)
		}
		counts[s.Locale]++
	}

	locale, top := "", 0
	for _, l := range order {
		if counts[l] > top {
			locale, top = l, counts[l]
		}
	}
	return locale
}

func ticks(v float64) time.Duration {
	return time.Duration(v) * tick
}
