package generator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/brodkin/clack-track-sub011/internal/ai"
)

// Spec is the strategy object describing one AI-prompted variant: a prompt
// template plus optional hooks for template variables and history metadata.
// All AI variants share one implementation parameterised by their Spec.
type Spec struct {
	ID     string
	System string
	// Prompt is a text/template body; Variables supplies its data.
	Prompt string
	// Variables builds the template data for one invocation. Nil means the
	// template only uses the builtin fields (Now, TriggerName).
	Variables func(Context) map[string]any
	// Metadata annotates the history record. Nil means none.
	Metadata  func(Context) map[string]any
	MaxTokens int
}

// AIGenerator is implemented by variants that need a language model.
type AIGenerator interface {
	Generator
	// BuildRequest renders the prompt for one invocation.
	BuildRequest(gc Context) (ai.GenerateRequest, error)
	// Annotate returns history metadata for one invocation.
	Annotate(gc Context) map[string]any
}

type aiGenerator struct {
	spec Spec
	tmpl *template.Template
}

// NewAI compiles spec into a generator. Template syntax errors surface
// here, at construction, not at generation time.
func NewAI(spec Spec) (AIGenerator, error) {
	tmpl, err := template.New(spec.ID).Parse(spec.Prompt)
	if err != nil {
		return nil, fmt.Errorf("generator %q: invalid prompt template: %w", spec.ID, err)
	}
	return &aiGenerator{spec: spec, tmpl: tmpl}, nil
}

func (g *aiGenerator) ID() string { return g.spec.ID }
func (g *aiGenerator) Kind() Kind { return KindAI }

func (g *aiGenerator) BuildRequest(gc Context) (ai.GenerateRequest, error) {
	data := map[string]any{
		"Now":         gc.Now,
		"TriggerName": gc.TriggerName,
	}
	if g.spec.Variables != nil {
		for k, v := range g.spec.Variables(gc) {
			data[k] = v
		}
	}

	var b strings.Builder
	if err := g.tmpl.Execute(&b, data); err != nil {
		return ai.GenerateRequest{}, fmt.Errorf("generator %q: rendering prompt: %w", g.spec.ID, err)
	}
	maxTokens := g.spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 128
	}
	return ai.GenerateRequest{
		System:    g.spec.System,
		Prompt:    b.String(),
		MaxTokens: maxTokens,
	}, nil
}

func (g *aiGenerator) Annotate(gc Context) map[string]any {
	if g.spec.Metadata == nil {
		return nil
	}
	return g.spec.Metadata(gc)
}

const sharedSystem = "You write very short copy for a 6-line, 22-character-per-line " +
	"split-flap display. Respond with plain text only, at most 120 characters, " +
	"no markdown, no quotes around the answer."

// builtinAI returns the standard AI-prompted variants. Each is a Spec, not
// a subclass: the hooks the old template-method design would override are
// plain fields here.
func builtinAI() []Generator {
	specs := []Spec{
		{
			ID:     "weather",
			System: sharedSystem,
			Prompt: "Write a punchy one-or-two-line weather notice for a home display. " +
				"It is {{.Now.Format \"Monday afternoon, January 2\"}}. " +
				"Do not invent exact temperatures.",
		},
		{
			ID:     "news",
			System: sharedSystem,
			Prompt: "Write a dry, amusing fake headline suitable for a household " +
				"split-flap board. Keep it gentle and apolitical.",
		},
		{
			ID:     "countdown",
			System: sharedSystem,
			Prompt: "Write a short countdown-style message building anticipation for " +
				"the next {{.Holiday}}. Today is {{.Now.Format \"January 2\"}}.",
			Variables: func(gc Context) map[string]any {
				return map[string]any{"Holiday": nextHoliday(gc.Now)}
			},
			Metadata: func(gc Context) map[string]any {
				return map[string]any{"holiday": nextHoliday(gc.Now)}
			},
		},
		{
			ID:     "hot_take",
			System: sharedSystem,
			Prompt: "Write a mild, funny hot take about everyday domestic life. " +
				"One sentence.",
		},
		{
			ID:     "seasonal",
			System: sharedSystem,
			Prompt: "Write a short seasonal greeting fitting {{.Season}}. " +
				"Today is {{.Now.Format \"January 2\"}}.",
			Variables: func(gc Context) map[string]any {
				return map[string]any{"Season": season(gc.Now)}
			},
		},
	}

	generators := make([]Generator, 0, len(specs))
	for _, s := range specs {
		g, err := NewAI(s)
		if err != nil {
			panic(err) // builtin templates are static
		}
		generators = append(generators, g)
	}
	return generators
}
