package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/ai"
	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/generator"
	"github.com/brodkin/clack-track-sub011/models"
)

// memStore is an in-memory breaker.Store for wiring a real Engine.
type memStore struct {
	mu       sync.Mutex
	circuits map[string]models.Circuit
}

func newMemStore() *memStore {
	return &memStore{circuits: make(map[string]models.Circuit)}
}

func (s *memStore) Get(_ context.Context, id string) (*models.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[id]
	if !ok {
		return nil, breaker.ErrUnknownCircuit
	}
	return &c, nil
}

func (s *memStore) Update(_ context.Context, c *models.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuits[c.ID] = *c
	return nil
}

func (s *memStore) Seed(_ context.Context, circuits []models.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range circuits {
		if _, exists := s.circuits[c.ID]; !exists {
			s.circuits[c.ID] = c
		}
	}
	return nil
}

func (s *memStore) List(_ context.Context) ([]models.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Circuit, 0, len(s.circuits))
	for _, c := range s.circuits {
		out = append(out, c)
	}
	return out, nil
}

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (p *fakeProvider) Name() string                       { return p.name }
func (p *fakeProvider) IsAvailable(_ context.Context) bool { return true }
func (p *fakeProvider) Generate(_ context.Context, _ ai.GenerateRequest) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.text, nil
}

type fakeDisplay struct {
	frames []models.Frame
	types  []models.UpdateType
	err    error
}

func (d *fakeDisplay) SendFrame(_ context.Context, f models.Frame, ut models.UpdateType) error {
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, f)
	d.types = append(d.types, ut)
	return nil
}

type fakeRecorder struct {
	rows []models.ContentHistory
	err  error
}

func (r *fakeRecorder) Record(_ context.Context, h *models.ContentHistory) error {
	if r.err != nil {
		return r.err
	}
	h.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *h)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	engine   *breaker.Engine
	store    *memStore
	display  *fakeDisplay
	recorder *fakeRecorder
	events   []string
}

func newFixture(t *testing.T, providers ...ai.Provider) *fixture {
	t.Helper()
	store := newMemStore()
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	cfg := config.CircuitsConfig{FailureThreshold: 3, ResetTimeout: time.Minute, RecoveryThreshold: 1}
	if err := store.Seed(context.Background(), breaker.DefaultCircuits(names, cfg.FailureThreshold)); err != nil {
		t.Fatalf("seeding circuits: %v", err)
	}
	eng := breaker.NewEngine(store, cfg, nil)

	fx := &fixture{
		engine:   eng,
		store:    store,
		display:  &fakeDisplay{},
		recorder: &fakeRecorder{},
	}
	fx.orch = New(eng, generator.Default(), providers, fx.display, fx.recorder,
		config.AIConfig{MaxAttempts: 1}, nil)
	fx.orch.OnEvent = func(name string, _ map[string]any) {
		fx.events = append(fx.events, name)
	}
	return fx
}

func (fx *fixture) sawEvent(name string) bool {
	for _, e := range fx.events {
		if e == name {
			return true
		}
	}
	return false
}

func TestGenerateAndSendSuccess(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "hello from the board"}
	fx := newFixture(t, p)

	res, err := fx.orch.GenerateAndSend(context.Background(),
		Request{GeneratorID: "hot_take", UpdateType: models.UpdateMajor})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Success || res.Blocked {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Provider != "openai" || res.GeneratorID != "hot_take" {
		t.Errorf("provider/generator = %q/%q", res.Provider, res.GeneratorID)
	}
	if !strings.Contains(res.Text, "hello") {
		t.Errorf("text = %q", res.Text)
	}
	if len(fx.display.frames) != 1 || fx.display.types[0] != models.UpdateMajor {
		t.Errorf("display got %d frames, types %v", len(fx.display.frames), fx.display.types)
	}
	if len(fx.recorder.rows) != 1 {
		t.Fatalf("history rows = %d, want 1", len(fx.recorder.rows))
	}
	row := fx.recorder.rows[0]
	if row.GeneratorID != "hot_take" || row.Provider != "openai" || row.UpdateType != "major" {
		t.Errorf("history row = %+v", row)
	}
	if !fx.sawEvent("content.updated") {
		t.Errorf("events = %v, want content.updated", fx.events)
	}
}

func TestMasterCircuitBlocks(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "x"}
	fx := newFixture(t, p)
	if err := fx.engine.SetManualState(context.Background(), models.CircuitMaster, models.CircuitOff); err != nil {
		t.Fatalf("SetManualState: %v", err)
	}

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Blocked || res.BlockReason != BlockMasterOff {
		t.Fatalf("result = %+v, want blocked with %s", res, BlockMasterOff)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times while master off", p.calls)
	}
	if len(fx.display.frames) != 0 {
		t.Error("frame sent while master off")
	}
	if len(res.Circuits) == 0 {
		t.Error("blocked result missing circuit snapshot")
	}
}

func TestSleepModeRoutesToSleepArt(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "x"}
	fx := newFixture(t, p)
	if err := fx.engine.SetManualState(context.Background(), models.CircuitSleepMode, models.CircuitOn); err != nil {
		t.Fatalf("SetManualState: %v", err)
	}

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "weather"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.GeneratorID != generator.SleepArtID {
		t.Errorf("generator = %q, want %q", res.GeneratorID, generator.SleepArtID)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times during sleep mode", p.calls)
	}
	if res.Provider != "" {
		t.Errorf("provider = %q, want empty for programmatic art", res.Provider)
	}
}

func TestProviderFallback(t *testing.T) {
	bad := &fakeProvider{name: "openai", err: errors.New("openai: status 500: boom")}
	good := &fakeProvider{name: "anthropic", text: "fallback text"}
	fx := newFixture(t, bad, good)

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "news"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Success || res.Provider != "anthropic" {
		t.Fatalf("result = %+v, want success via anthropic", res)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", bad.calls, good.calls)
	}

	status, err := fx.engine.Status(context.Background(), models.ProviderCircuitID("openai"))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.FailureCount != 1 {
		t.Errorf("openai failure count = %d, want 1", status.FailureCount)
	}
}

func TestAllProvidersFailingIsError(t *testing.T) {
	bad := &fakeProvider{name: "openai", err: errors.New("openai: status 401: no key")}
	fx := newFixture(t, bad)

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "news"})
	if err == nil {
		t.Fatal("expected error when every admitted provider fails")
	}
	if res.Success || res.Blocked {
		t.Fatalf("result = %+v, want plain failure (admitted providers failed)", res)
	}
	if len(fx.display.frames) != 0 {
		t.Error("frame sent despite provider failure")
	}
	if !fx.sawEvent("generation.failed") {
		t.Errorf("events = %v, want generation.failed", fx.events)
	}
}

func TestTrippedCircuitSkipsProvider(t *testing.T) {
	bad := &fakeProvider{name: "openai", err: errors.New("openai: status 503: down")}
	fx := newFixture(t, bad)
	ctx := context.Background()

	// Threshold is 3: three failing updates trip the circuit.
	for i := 0; i < 3; i++ {
		if _, err := fx.orch.GenerateAndSend(ctx, Request{GeneratorID: "news"}); err == nil {
			t.Fatalf("update %d: expected provider failure error", i)
		}
	}
	if !fx.sawEvent("circuit.tripped") {
		t.Errorf("events = %v, want circuit.tripped", fx.events)
	}
	calls := bad.calls

	// Next update is gated without reaching the provider.
	res, err := fx.orch.GenerateAndSend(ctx, Request{GeneratorID: "news"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Blocked || res.BlockReason != BlockProviderUnavailable {
		t.Fatalf("result = %+v, want blocked", res)
	}
	if bad.calls != calls {
		t.Errorf("provider called while circuit off (%d → %d)", calls, bad.calls)
	}
}

func TestDisplayFailureIsError(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "x"}
	fx := newFixture(t, p)
	fx.display.err = errors.New("display: status 500: flap jam")

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "news"})
	if err == nil {
		t.Fatal("expected error from display failure")
	}
	if res.Success || res.Blocked {
		t.Fatalf("result = %+v, want neither success nor blocked", res)
	}
	if len(fx.recorder.rows) != 0 {
		t.Error("history recorded for a frame that never reached the display")
	}
}

func TestGeneratorMetadataRecorded(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "soon"}
	fx := newFixture(t, p)

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "countdown"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	holiday, _ := res.Metadata["holiday"].(string)
	if holiday == "" {
		t.Fatalf("result metadata = %v, want a holiday annotation", res.Metadata)
	}
	if len(fx.recorder.rows) != 1 {
		t.Fatalf("recorded %d rows, want 1", len(fx.recorder.rows))
	}
	row := fx.recorder.rows[0]
	if !strings.Contains(row.Metadata, `"holiday"`) || !strings.Contains(row.Metadata, holiday) {
		t.Errorf("history metadata = %q, want JSON carrying holiday %q", row.Metadata, holiday)
	}
	if res.History == nil || res.History.Metadata != row.Metadata {
		t.Error("result history row does not carry the recorded metadata")
	}
}

func TestHistoryFailureIsBestEffort(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "x"}
	fx := newFixture(t, p)
	fx.recorder.err = errors.New("disk full")

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "news"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success despite history failure", res)
	}
	if res.History != nil {
		t.Error("result carries a history row that was not persisted")
	}
}

func TestPanickingObserverIsContained(t *testing.T) {
	p := &fakeProvider{name: "openai", text: "x"}
	fx := newFixture(t, p)
	fx.orch.OnEvent = func(string, map[string]any) { panic("observer bug") }

	res, err := fx.orch.GenerateAndSend(context.Background(), Request{GeneratorID: "news"})
	if err != nil {
		t.Fatalf("GenerateAndSend: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success despite panicking observer", res)
	}
}
