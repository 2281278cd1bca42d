package registry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/events"
	"github.com/nidhogg/palskill/internal/library"
	"github.com/nidhogg/palskill/internal/retrieval"
	"github.com/nidhogg/palskill/internal/sandbox"
	"github.com/nidhogg/palskill/internal/skill"
	"github.com/nidhogg/palskill/internal/vectorstore"
)

// countingProvider returns a deterministic non-zero vector per text and
// counts how many texts it embedded.
type countingProvider struct {
	mu       sync.Mutex
	calls    int
	override map[string][]float32
	err      error
}

func (p *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		p.calls++
		if v, ok := p.override[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{float32(len(t)%7 + 1), float32(strings.Count(t, "a") + 1), float32(strings.Count(t, "e") + 1), 1}
	}
	return out, nil
}

func (p *countingProvider) Dimension() int { return 4 }

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memStore struct {
	records []library.Record
	err     error
	saves   int
}

func (m *memStore) Load(context.Context) ([]library.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]library.Record(nil), m.records...), nil
}

func (m *memStore) Save(_ context.Context, records []library.Record) error {
	m.saves++
	m.records = append([]library.Record(nil), records...)
	return nil
}

type recordingNotifier struct {
	events []*events.Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev *events.Event) error {
	n.events = append(n.events, ev)
	return nil
}

type fakeIndex struct {
	upserts map[string][]float32
	deletes []string
	hits    []vectorstore.Hit
	limits  []uint64
}

func (ix *fakeIndex) Upsert(_ context.Context, name string, vec []float32, _ map[string]string) error {
	if ix.upserts == nil {
		ix.upserts = make(map[string][]float32)
	}
	ix.upserts[name] = vec
	return nil
}

func (ix *fakeIndex) Delete(_ context.Context, name string) error {
	ix.deletes = append(ix.deletes, name)
	return nil
}

func (ix *fakeIndex) Search(_ context.Context, _ []float32, topK uint64) ([]vectorstore.Hit, error) {
	ix.limits = append(ix.limits, topK)
	if uint64(len(ix.hits)) > topK {
		return ix.hits[:topK], nil
	}
	return ix.hits, nil
}

type recordingActuator struct {
	skill.LogActuator
	mu     sync.Mutex
	spoken []string
	fail   error
}

func (a *recordingActuator) Speak(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.spoken = append(a.spoken, text)
	return nil
}

func testConfig() Config {
	return Config{
		Mode:        skill.ModeFull,
		FromDefault: true,
		MaxCount:    5,
		Basic:       []string{"speak", "open_map", "close_map", "move"},
		Deny:        []string{"map"},
		Allow:       []string{"mapping"},
		Groups: retrieval.Groups{
			Movement: []string{"move"},
			Trade:    []string{"buy_item", "sell_item"},
			Map:      []string{"open_map", "close_map"},
		},
	}
}

type fixture struct {
	reg      *Registry
	provider *countingProvider
	store    *memStore
	act      *recordingActuator
	notifier *recordingNotifier
	index    *fakeIndex
}

func newFixture(t *testing.T, cfg Config, store *memStore) *fixture {
	t.Helper()
	f := &fixture{
		provider: &countingProvider{},
		store:    store,
		act:      &recordingActuator{LogActuator: skill.LogActuator{Logger: zap.NewNop()}},
		notifier: &recordingNotifier{},
		index:    &fakeIndex{},
	}
	if f.store == nil {
		f.store = &memStore{}
	}
	cache := embedding.NewCache(f.provider, 4, zap.NewNop())
	f.reg = New(cfg, cache, zap.NewNop(),
		WithStore(f.store), WithNotifier(f.notifier), WithIndex(f.index))
	if err := f.reg.Load(context.Background(), skill.Builtins(f.act)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return f
}

const wavePairCode = `-- Wave and say a short greeting.
--
-- Parameters:
-- - greeting: The words to say while waving.
function Wave_Hello(greeting)
  wave_left_hand()
  speak{text = greeting}
  return "waved"
end
`

func TestLoadFromDefinitions(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	defs := skill.Builtins(f.act)
	if got := f.reg.Names(); len(got) != len(defs) || got[0] != "speak" {
		t.Fatalf("got %v", got)
	}
	if f.provider.count() != len(defs) {
		t.Errorf("got %d provider calls, want %d", f.provider.count(), len(defs))
	}
	if len(f.store.records) != len(defs) {
		t.Errorf("got %d persisted records, want %d", len(f.store.records), len(defs))
	}
	if len(f.index.upserts) != len(defs) {
		t.Errorf("got %d mirrored embeddings", len(f.index.upserts))
	}
}

func TestLoadReusesValidEmbeddings(t *testing.T) {
	first := newFixture(t, testConfig(), nil)
	second := newFixture(t, testConfig(), first.store)
	if second.provider.count() != 0 {
		t.Errorf("got %d provider calls on reload, want 0", second.provider.count())
	}
	a, _ := first.reg.Get("speak")
	b, _ := second.reg.Get("speak")
	if !reflect.DeepEqual(a.Embedding, b.Embedding) {
		t.Error("embedding not reused verbatim")
	}
}

func TestLoadRecomputesStaleEmbedding(t *testing.T) {
	first := newFixture(t, testConfig(), nil)
	first.store.records[0].CodeHash = "0000000000000000"
	first.store.records[1].Embedding = nil
	second := newFixture(t, testConfig(), first.store)
	if second.provider.count() != 2 {
		t.Errorf("got %d provider calls, want 2", second.provider.count())
	}
}

func TestLoadDropsUnresolvableRecords(t *testing.T) {
	store := &memStore{records: []library.Record{
		{Name: "teleport", Code: "teleport()", CodeHash: skill.Hash("teleport()"), Embedding: []float32{1, 0, 0, 0}},
		{Name: "lies", Code: "function truth() end", CodeHash: skill.Hash("function truth() end")},
	}}
	f := newFixture(t, testConfig(), store)
	for _, n := range []string{"teleport", "lies"} {
		if _, err := f.reg.Get(n); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: got %v, want ErrNotFound", n, err)
		}
	}
}

func TestLoadRestoresGeneratedSkills(t *testing.T) {
	ctx := context.Background()
	first := newFixture(t, testConfig(), nil)
	res, err := first.reg.Register(ctx, wavePairCode, false)
	if err != nil || !res.OK {
		t.Fatalf("register: %+v %v", res, err)
	}
	if err := first.reg.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := newFixture(t, testConfig(), first.store)
	if second.provider.count() != 0 {
		t.Errorf("got %d provider calls, want 0", second.provider.count())
	}
	names := second.reg.Names()
	if names[len(names)-1] != "wave_hello" {
		t.Fatalf("generated skill not restored in order: %v", names)
	}
	if _, err := second.reg.Invoke(ctx, "wave_hello", map[string]any{"greeting": "hi"}); err != nil {
		t.Fatalf("invoke restored skill: %v", err)
	}
	if !reflect.DeepEqual(second.act.spoken, []string{"hi"}) {
		t.Errorf("got spoken %v", second.act.spoken)
	}
}

func TestLoadRebuildsOnDecodeError(t *testing.T) {
	store := &memStore{err: library.ErrDecode}
	cfg := testConfig()
	cache := embedding.NewCache(&countingProvider{}, 4, zap.NewNop())
	reg := New(cfg, cache, zap.NewNop(), WithStore(store))
	defs := skill.Builtins(skill.LogActuator{Logger: zap.NewNop()})
	if err := reg.Load(context.Background(), defs); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reg.Names()) != len(defs) {
		t.Errorf("got %d skills", len(reg.Names()))
	}
}

func TestLoadPropagatesStoreError(t *testing.T) {
	boom := errors.New("disk on fire")
	cache := embedding.NewCache(&countingProvider{}, 4, zap.NewNop())
	reg := New(testConfig(), cache, zap.NewNop(), WithStore(&memStore{err: boom}))
	if err := reg.Load(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("got %v, want store error", err)
	}
}

func TestLoadPropagatesProviderError(t *testing.T) {
	boom := errors.New("provider down")
	cache := embedding.NewCache(&countingProvider{err: boom}, 4, zap.NewNop())
	reg := New(testConfig(), cache, zap.NewNop())
	err := reg.Load(context.Background(), skill.Builtins(skill.LogActuator{Logger: zap.NewNop()}))
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want provider error", err)
	}
}

func TestLoadBasicMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = skill.ModeBasic
	f := newFixture(t, cfg, nil)
	if got, want := f.reg.Names(), []string{"speak", "move", "open_map", "close_map"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(f.index.upserts) != 4 {
		t.Errorf("got %d mirrored embeddings, want 4", len(f.index.upserts))
	}
	// Points left by an earlier full run are removed.
	if got, want := len(f.index.deletes), len(skill.Builtins(f.act))-4; got != want {
		t.Errorf("got %d index deletes, want %d: %v", got, want, f.index.deletes)
	}
	for _, n := range f.index.deletes {
		if _, ok := f.index.upserts[n]; ok {
			t.Errorf("exposed skill %s deleted from index", n)
		}
	}
}

func TestLoadIgnoresLibraryWhenNotFromDefault(t *testing.T) {
	cfg := testConfig()
	first := newFixture(t, cfg, nil)
	cfg.FromDefault = false
	second := newFixture(t, cfg, first.store)
	if second.provider.count() == 0 {
		t.Error("expected embeddings to be rebuilt")
	}
}

func TestFileStoreRoundTripIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := library.NewFileStore(dir, skill.ModeFull)
	build := func() *Registry {
		cache := embedding.NewCache(&countingProvider{}, 4, zap.NewNop())
		reg := New(testConfig(), cache, zap.NewNop(), WithStore(fs))
		if err := reg.Load(ctx, skill.Builtins(skill.LogActuator{Logger: zap.NewNop()})); err != nil {
			t.Fatalf("load: %v", err)
		}
		return reg
	}

	reg := build()
	if _, err := reg.Register(ctx, wavePairCode, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, _ := os.ReadFile(fs.Path)

	build()
	second, _ := os.ReadFile(fs.Path)
	if !bytes.Equal(first, second) {
		t.Errorf("library changed across load:\n%s\nvs\n%s", first, second)
	}
}

func TestRetrieveProperties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	total := len(f.reg.Names())

	for _, k := range []int{1, 3, 100} {
		for _, tag := range []string{"", retrieval.GeneralGameInterface, retrieval.TradeInterface, retrieval.MapInterface} {
			got, err := f.reg.Retrieve(ctx, "buy some apples", k, tag)
			if err != nil {
				t.Fatalf("retrieve: %v", err)
			}
			mandatory := len(testConfig().Groups.For(tag))
			ranked := got[:len(got)-mandatory]
			seen := make(map[string]bool)
			for _, n := range ranked {
				if seen[n] {
					t.Errorf("k=%d tag=%q: duplicate %s in %v", k, tag, n, got)
				}
				seen[n] = true
			}
			lo := k
			if total < lo {
				lo = total
			}
			if len(got) < lo || len(got) > total+mandatory {
				t.Errorf("k=%d tag=%q: got %d names, want between %d and %d", k, tag, len(got), lo, total+mandatory)
			}
		}
	}
}

func TestRetrieveConsumesRecency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	if _, err := f.reg.Register(ctx, wavePairCode, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := f.reg.Retrieve(ctx, "anything", 1, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"wave_hello"}) {
		t.Errorf("got %v, want recent skill first", got)
	}
	if r := f.reg.Recent(); len(r) != 0 {
		t.Errorf("recency not cleared: %v", r)
	}
}

func TestRetrieveKeepsRecencyOnProviderError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	if _, err := f.reg.Register(ctx, wavePairCode, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.provider.err = errors.New("provider down")
	if _, err := f.reg.Retrieve(ctx, "anything", 1, ""); err == nil {
		t.Fatal("expected provider error")
	}
	if r := f.reg.Recent(); !reflect.DeepEqual(r, []string{"wave_hello"}) {
		t.Errorf("got recency %v", r)
	}
}

func TestRegisterNoFunctionality(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	before := f.reg.Names()
	res, err := f.reg.Register(context.Background(), "x", false)
	if err != nil || !res.OK || !strings.Contains(res.Message, "no functionality") {
		t.Errorf("got %+v %v", res, err)
	}
	if !reflect.DeepEqual(f.reg.Names(), before) {
		t.Error("catalog changed")
	}
}

func TestRegisterRenamesStaticCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	orig, _ := f.reg.Get("speak")

	code := `-- Speak loudly.
--
-- Parameters:
-- - text: The text to shout.
function speak(text)
  return string.upper(text)
end
`
	res, err := f.reg.Register(ctx, code, false)
	if err != nil || !res.OK || res.Name != "speak_generated" {
		t.Fatalf("got %+v %v", res, err)
	}
	now, _ := f.reg.Get("speak")
	if now != orig {
		t.Error("static speak was replaced")
	}
	gen, err := f.reg.Get("speak_generated")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(gen.Source, "function speak_generated(text)") {
		t.Errorf("source not renamed: %s", gen.Source)
	}
	out, err := f.reg.Invoke(ctx, "speak_generated", map[string]any{"text": "hey"})
	if err != nil || out != "HEY" {
		t.Errorf("got %v %v", out, err)
	}
}

func TestRegisterProtectionConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	before := f.reg.Names()

	code := `-- Opens the map.
function open_the_map()
  open_map()
end
`
	res, err := f.reg.Register(ctx, code, false)
	if err != nil || !res.OK || !strings.Contains(res.Message, "conflicts with protected skills") {
		t.Fatalf("got %+v %v", res, err)
	}
	if !reflect.DeepEqual(f.reg.Names(), before) {
		t.Error("catalog changed on conflict")
	}
	if r := f.reg.Recent(); !reflect.DeepEqual(r, []string{"open_map", "close_map"}) {
		t.Errorf("got recency %v", r)
	}
	if last := f.notifier.events[len(f.notifier.events)-1]; last.Type != events.TypeConflict {
		t.Errorf("got event %+v", last)
	}
}

func TestRegisterRenameKeepsDocAndStrings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	code := `-- Make the robot speak twice.
-- - text: The words to speak.
function speak(text)
  print("speak")
  return text .. text
end
`
	res, err := f.reg.Register(ctx, code, false)
	if err != nil || res.Name != "speak_generated" {
		t.Fatalf("got %+v %v", res, err)
	}
	gen, err := f.reg.Get("speak_generated")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := "Make the robot speak twice.\n- text: The words to speak."; gen.Documentation != want {
		t.Errorf("got doc %q, want %q", gen.Documentation, want)
	}
	if len(gen.Params) != 1 || gen.Params[0].Description != "The words to speak" {
		t.Errorf("got params %+v", gen.Params)
	}
	if !strings.Contains(gen.Source, `print("speak")`) || strings.Contains(gen.Source, `print("speak_generated")`) {
		t.Errorf("string literal renamed: %s", gen.Source)
	}
}

func TestRegisterRepeatedConflictsRetrieveUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	for _, code := range []string{
		"function open_the_map()\n  open_map()\nend",
		"function show_map()\n  open_map()\nend",
	} {
		if res, err := f.reg.Register(ctx, code, false); err != nil || !res.OK {
			t.Fatalf("register: %+v %v", res, err)
		}
	}
	if r := f.reg.Recent(); !reflect.DeepEqual(r, []string{"open_map", "close_map"}) {
		t.Errorf("got recency %v, want [open_map close_map]", r)
	}

	got, err := f.reg.Retrieve(ctx, "open the map", 3, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	seen := make(map[string]int)
	for _, n := range got {
		seen[n]++
		if seen[n] > 1 {
			t.Errorf("name %q returned %d times in %v", n, seen[n], got)
		}
	}
	if len(got) != 3 || got[0] != "open_map" || got[1] != "close_map" {
		t.Errorf("got %v, want recency first then one ranked skill", got)
	}
}

func TestRegisterConflictSkipsMissingBasicSkills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	if err := f.reg.Delete(ctx, "close_map"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.reg.Register(ctx, "function show_map()\n  open_map()\nend", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if r := f.reg.Recent(); !reflect.DeepEqual(r, []string{"open_map"}) {
		t.Errorf("got recency %v, want [open_map]", r)
	}
}

func TestRegisterAllowOverridesDeny(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	code := "function mapping_notes()\n  return string.len('x')\nend"
	res, err := f.reg.Register(context.Background(), code, false)
	if err != nil || !res.OK || !strings.Contains(res.Message, "has been registered") {
		t.Errorf("got %+v %v", res, err)
	}
}

func TestRegisterExistingAndOverwrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	if res, err := f.reg.Register(ctx, wavePairCode, false); err != nil || !res.OK {
		t.Fatalf("register: %+v %v", res, err)
	}
	calls := f.provider.count()

	res, err := f.reg.Register(ctx, wavePairCode, false)
	if err != nil || !res.OK || !strings.Contains(res.Message, "already exists") {
		t.Errorf("got %+v %v", res, err)
	}
	if f.provider.count() != calls {
		t.Error("duplicate registration called the provider")
	}

	updated := strings.Replace(wavePairCode, `return "waved"`, `return "waved twice"`, 1)
	res, err = f.reg.Register(ctx, updated, true)
	if err != nil || !res.OK || !strings.Contains(res.Message, "has been registered") {
		t.Fatalf("overwrite: %+v %v", res, err)
	}
	out, err := f.reg.Invoke(ctx, "wave_hello", map[string]any{"greeting": "yo"})
	if err != nil || out != "waved twice" {
		t.Errorf("got %v %v", out, err)
	}
}

func TestRegisterFailures(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	tests := []struct {
		name string
		code string
		want error
	}{
		{"syntax", "function broken(a (", sandbox.ErrCompile},
		{"runtime", "error(string.rep('x', 2))\nfunction f() end", sandbox.ErrCompile},
		{"contract", "-- Jump.\nfunction jump(height)\n  return tostring(height)\nend", sandbox.ErrContract},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.reg.Names()
			res, err := f.reg.Register(context.Background(), tt.code, false)
			if res.OK || !errors.Is(err, tt.want) {
				t.Errorf("got %+v %v, want failure %v", res, err, tt.want)
			}
			if !reflect.DeepEqual(f.reg.Names(), before) {
				t.Error("catalog changed on failure")
			}
		})
	}
}

func TestRegisterEmbeddingFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	boom := errors.New("provider down")
	f.provider.err = boom
	res, err := f.reg.Register(context.Background(), wavePairCode, false)
	if res.OK || !errors.Is(err, boom) {
		t.Errorf("got %+v %v", res, err)
	}
	if _, err := f.reg.Get("wave_hello"); !errors.Is(err, ErrNotFound) {
		t.Error("skill inserted despite embedding failure")
	}
}

func TestRegisteredSkillCallsBuiltins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	res, err := f.reg.Register(ctx, wavePairCode, false)
	if err != nil || res.Name != "wave_hello" {
		t.Fatalf("got %+v %v", res, err)
	}
	out, err := f.reg.Invoke(ctx, "wave_hello", map[string]any{"greeting": "hello there"})
	if err != nil || out != "waved" {
		t.Fatalf("got %v %v", out, err)
	}
	if !reflect.DeepEqual(f.act.spoken, []string{"hello there"}) {
		t.Errorf("got spoken %v", f.act.spoken)
	}

	s, _ := f.reg.Get("wave_hello")
	if s.Origin != skill.OriginGenerated || len(s.Params) != 1 || s.Params[0].Description != "The words to say while waving" {
		t.Errorf("got %+v", s)
	}
	if _, ok := f.index.upserts["wave_hello"]; !ok {
		t.Error("embedding not mirrored")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	if _, err := f.reg.Register(ctx, wavePairCode, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.reg.Delete(ctx, "wave_hello(greeting='x')"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(f.reg.Recent()) != 0 {
		t.Error("deleted skill left in recency list")
	}
	if !reflect.DeepEqual(f.index.deletes, []string{"wave_hello"}) {
		t.Errorf("got index deletes %v", f.index.deletes)
	}
	if err := f.reg.Delete(ctx, "wave_hello"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRestrictTo(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	all := f.reg.Names()
	missing := f.reg.RestrictTo(context.Background(), []string{"dance", "nod", "fly"})
	if !reflect.DeepEqual(missing, []string{"fly"}) {
		t.Errorf("got missing %v", missing)
	}
	if got := f.reg.Names(); !reflect.DeepEqual(got, []string{"dance", "nod"}) {
		t.Errorf("got %v", got)
	}
	if len(f.index.deletes) != len(all)-2 {
		t.Errorf("got %d index deletes, want %d", len(f.index.deletes), len(all)-2)
	}
	for _, n := range f.index.deletes {
		if n == "dance" || n == "nod" || n == "fly" {
			t.Errorf("index delete of %s", n)
		}
	}
}

func TestContractAndCode(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	c, err := f.reg.Contract("move", true)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	if c.Expression != "move(x, y, z)" || c.Parameters["z"] == "" || c.Code == "" {
		t.Errorf("got %+v", c)
	}
	code, err := f.reg.SkillCode("move(x=1, y=2, z=3)")
	if err != nil || !strings.HasPrefix(code, "move(x, y, z)") {
		t.Errorf("got %q %v", code, err)
	}
	if _, err := f.reg.SkillCode("fly()"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if got := f.reg.Contracts([]string{"nod", "fly"}); len(got) != 1 || got[0].Expression != "nod()" {
		t.Errorf("got %+v", got)
	}
}

func TestSimilarSkipsIndexHitsOutsideCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	f.index.hits = []vectorstore.Hit{
		{Name: "ghost", Score: 0.99},
		{Name: "dance", Score: 0.9},
		{Name: "phantom", Score: 0.8},
		{Name: "nod", Score: 0.7},
	}
	got, err := f.reg.Similar(ctx, "party", 2)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(got) != 2 || got[0].Name != "dance" || got[1].Name != "nod" {
		t.Errorf("got %v, want [dance nod]", got)
	}
	if !reflect.DeepEqual(f.index.limits, []uint64{2, 4}) {
		t.Errorf("got search limits %v, want [2 4]", f.index.limits)
	}
	for _, s := range got {
		if _, err := f.reg.Get(s.Name); err != nil {
			t.Errorf("similar returned %s: %v", s.Name, err)
		}
	}
}

func TestSimilarFallsBackWhenIndexIsStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), nil)
	f.index.hits = []vectorstore.Hit{{Name: "ghost", Score: 0.99}}
	got, err := f.reg.Similar(ctx, "party", 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("got %v %v, want three local scores", got, err)
	}
	for _, s := range got {
		if s.Name == "ghost" {
			t.Errorf("got stale index hit in %v", got)
		}
	}

	f.reg.index = nil
	got, err = f.reg.Similar(ctx, "party", 3)
	if err != nil || len(got) != 3 {
		t.Errorf("local path: got %v %v", got, err)
	}
}
