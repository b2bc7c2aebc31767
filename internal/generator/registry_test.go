package generator

import (
	"strings"
	"testing"
	"time"

	"github.com/brodkin/clack-track-sub011/models"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	want := []string{"countdown", "hot_take", "news", "pattern_art", "seasonal", "sleep_art", "weather"}
	got := r.IDs()
	if len(got) != len(want) {
		t.Fatalf("expected %d generators, got %d: %v", len(want), len(got), got)
	}
	for i, id := range want {
		if got[i] != id {
			t.Errorf("rotation[%d] = %q, want %q", i, got[i], id)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewPatternArt()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewPatternArt()); err == nil {
		t.Fatal("expected duplicate register to fail")
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Fatal("expected error for unknown generator")
	}
}

func TestNextSkipsSleepArt(t *testing.T) {
	r := Default()
	seen := map[string]int{}
	for i := 0; i < 2*len(r.IDs()); i++ {
		g, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[g.ID()]++
	}
	if seen[SleepArtID] != 0 {
		t.Errorf("rotation returned %s %d times, want 0", SleepArtID, seen[SleepArtID])
	}
	for _, id := range []string{"weather", "news", "countdown", "hot_take", "seasonal", PatternArtID} {
		if seen[id] != 2 {
			t.Errorf("generator %q returned %d times over two cycles, want 2", id, seen[id])
		}
	}
}

func TestNextEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Next(); err == nil {
		t.Fatal("expected error from empty registry")
	}
}

func TestNextOnlySleepArt(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewSleepArt()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Next(); err == nil {
		t.Fatal("expected error when only sleep art is registered")
	}
}

func TestNewAIInvalidTemplate(t *testing.T) {
	_, err := NewAI(Spec{ID: "broken", Prompt: "{{.Unclosed"})
	if err == nil {
		t.Fatal("expected template parse error")
	}
}

func TestBuildRequestCountdown(t *testing.T) {
	r := Default()
	g, err := r.Get("countdown")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	aiGen, ok := g.(AIGenerator)
	if !ok {
		t.Fatalf("countdown is %T, want AIGenerator", g)
	}
	gc := Context{Now: time.Date(2025, time.December, 1, 12, 0, 0, 0, time.UTC)}
	req, err := aiGen.BuildRequest(gc)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(req.Prompt, "Christmas") {
		t.Errorf("prompt %q does not mention the upcoming holiday", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "December 1") {
		t.Errorf("prompt %q does not contain the date", req.Prompt)
	}
	if req.MaxTokens <= 0 {
		t.Errorf("MaxTokens = %d, want positive default", req.MaxTokens)
	}
	meta := aiGen.Annotate(gc)
	if meta["holiday"] != "Christmas" {
		t.Errorf("metadata holiday = %v, want Christmas", meta["holiday"])
	}
}

func TestBuildRequestSeasonal(t *testing.T) {
	r := Default()
	g, err := r.Get("seasonal")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	aiGen := g.(AIGenerator)
	req, err := aiGen.BuildRequest(Context{Now: time.Date(2025, time.July, 10, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(req.Prompt, "summer") {
		t.Errorf("prompt %q does not mention the season", req.Prompt)
	}
}

func TestNextHoliday(t *testing.T) {
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC), "Valentine's Day"},
		{time.Date(2025, time.October, 31, 0, 0, 0, 0, time.UTC), "Halloween"},
		{time.Date(2025, time.December, 26, 0, 0, 0, 0, time.UTC), "New Year's Day"},
	}
	for _, tt := range tests {
		if got := nextHoliday(tt.date); got != tt.want {
			t.Errorf("nextHoliday(%s) = %q, want %q", tt.date.Format("Jan 2"), got, tt.want)
		}
	}
}

func TestSeason(t *testing.T) {
	tests := []struct {
		month time.Month
		want  string
	}{
		{time.January, "winter"},
		{time.April, "spring"},
		{time.August, "summer"},
		{time.October, "autumn"},
		{time.December, "winter"},
	}
	for _, tt := range tests {
		d := time.Date(2025, tt.month, 15, 0, 0, 0, 0, time.UTC)
		if got := season(d); got != tt.want {
			t.Errorf("season(%s) = %q, want %q", tt.month, got, tt.want)
		}
	}
}

func TestPatternArtRender(t *testing.T) {
	g := NewPatternArt()
	f := g.Render(Context{Now: time.Now()})
	for r, row := range f.Rows {
		if len(row) != models.FrameCols {
			t.Errorf("row %d has %d columns, want %d", r, len(row), models.FrameCols)
		}
	}
	// Mirror symmetry is the whole point of the pattern.
	for r, row := range f.Rows {
		for c := 0; c < models.FrameCols/2; c++ {
			if row[c] != row[models.FrameCols-1-c] {
				t.Errorf("row %d not mirrored at column %d", r, c)
			}
		}
	}
}

func TestSleepArtRender(t *testing.T) {
	g := NewSleepArt()
	f := g.Render(Context{Now: time.Date(2025, time.March, 1, 2, 15, 0, 0, time.UTC)})
	nonBlank := 0
	for _, row := range f.Rows {
		if strings.TrimSpace(row) != "" {
			nonBlank++
		}
	}
	if nonBlank != 1 {
		t.Errorf("sleep art lit %d rows, want exactly 1", nonBlank)
	}
}
