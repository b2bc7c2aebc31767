package generator

import (
	"math/rand"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/frame"
	"github.com/brodkin/clack-track-sub011/models"
)

// SleepArtID is selected by the orchestrator while SLEEP_MODE is on,
// instead of calling any AI provider.
const SleepArtID = "sleep_art"

// PatternArtID renders abstract flap patterns.
const PatternArtID = "pattern_art"

// ArtGenerator is implemented by programmatic variants that address the
// grid directly and need no AI provider.
type ArtGenerator interface {
	Generator
	Render(gc Context) models.Frame
}

type patternArt struct {
	rng *rand.Rand
}

// NewPatternArt returns the abstract pattern generator.
func NewPatternArt() ArtGenerator {
	return &patternArt{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *patternArt) ID() string { return PatternArtID }
func (p *patternArt) Kind() Kind { return KindProgrammatic }

var patternGlyphs = []byte{'#', '+', '-', '.', ' ', ' '}

// Render draws a symmetric glyph field: the left half is random, the right
// half mirrors it, which reads as intentional on the physical board.
func (p *patternArt) Render(_ Context) models.Frame {
	rows := make([]string, models.FrameRows)
	half := models.FrameCols / 2
	for r := 0; r < models.FrameRows; r++ {
		line := make([]byte, models.FrameCols)
		for c := 0; c < half; c++ {
			g := patternGlyphs[p.rng.Intn(len(patternGlyphs))]
			line[c] = g
			line[models.FrameCols-1-c] = g
		}
		rows[r] = string(line)
	}
	return frame.FromRows(rows)
}

type sleepArt struct{}

// NewSleepArt returns the night-time generator: a dim, quiet pattern that
// avoids the clatter of a full-board flap cycle.
func NewSleepArt() ArtGenerator {
	return &sleepArt{}
}

func (s *sleepArt) ID() string { return SleepArtID }
func (s *sleepArt) Kind() Kind { return KindProgrammatic }

// Render keeps the board nearly blank: a thin band of dots drifting with
// the hour, so consecutive sleep frames differ only in a handful of cells.
func (s *sleepArt) Render(gc Context) models.Frame {
	rows := make([]string, models.FrameRows)
	band := gc.Now.Hour() % models.FrameRows
	line := make([]byte, models.FrameCols)
	for c := range line {
		if c%4 == gc.Now.Minute()%4 {
			line[c] = '.'
		} else {
			line[c] = ' '
		}
	}
	for r := range rows {
		if r == band {
			rows[r] = string(line)
		} else {
			rows[r] = ""
		}
	}
	return frame.FromRows(rows)
}
