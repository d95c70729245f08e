package layercache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// ==============================
// Test doubles
// ==============================

type memLayer struct {
	name string

	mu     sync.Mutex
	data   map[string]string
	gets   [][]string
	sets   []map[string]string
	getErr error
	setErr error
}

var _ Layer[string, string] = (*memLayer)(nil)

func newMemLayer(name string, seed map[string]string) *memLayer {
	l := &memLayer{name: name, data: make(map[string]string)}
	for k, v := range seed {
		l.data[k] = v
	}
	return l
}

func (l *memLayer) Name() string { return l.name }

func (l *memLayer) BatchGet(_ context.Context, keys []string) ([]Result[string], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gets = append(l.gets, append([]string(nil), keys...))
	if l.getErr != nil {
		return nil, l.getErr
	}
	out := make([]Result[string], len(keys))
	for i, k := range keys {
		if v, ok := l.data[k]; ok {
			out[i] = Hit(v)
		} else {
			out[i] = Miss[string]()
		}
	}
	return out, nil
}

func (l *memLayer) BatchSet(_ context.Context, items map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(map[string]string, len(items))
	for k, v := range items {
		cp[k] = v
	}
	l.sets = append(l.sets, cp)
	if l.setErr != nil {
		return l.setErr
	}
	for k, v := range items {
		l.data[k] = v
	}
	return nil
}

func (l *memLayer) value(k string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[k]
	return v, ok
}

func (l *memLayer) getCalls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.gets...)
}

func (l *memLayer) setCalls() []map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]string(nil), l.sets...)
}

type recHooks struct {
	NopHooks
	mu          sync.Mutex
	layerFailed []string
	writeBacks  []*WriteBackError
	finalFailed int
	missing     int
	dispatched  map[string]int
}

func (h *recHooks) BatchDispatched(layer string, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dispatched == nil {
		h.dispatched = make(map[string]int)
	}
	h.dispatched[layer]++
}

func (h *recHooks) LayerFailed(layer string, _ int, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layerFailed = append(h.layerFailed, layer)
}

func (h *recHooks) WriteBackFailed(err *WriteBackError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeBacks = append(h.writeBacks, err)
}

func (h *recHooks) FinalFailed(int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalFailed++
}

func (h *recHooks) FinalMissing(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.missing += n
}

type hookCounts struct {
	layerFailed []string
	writeBacks  []*WriteBackError
	finalFailed int
	missing     int
}

func (h *recHooks) snapshot() hookCounts {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hookCounts{
		layerFailed: append([]string(nil), h.layerFailed...),
		writeBacks:  append([]*WriteBackError(nil), h.writeBacks...),
		finalFailed: h.finalFailed,
		missing:     h.missing,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mapFetch(m map[string]string) FetchFunc[string, string] {
	return func(_ context.Context, keys []string) ([]Result[string], error) {
		out := make([]Result[string], len(keys))
		for i, k := range keys {
			if v, ok := m[k]; ok {
				out[i] = Hit(v)
			} else {
				out[i] = Fail[string](errors.New("value not found"))
			}
		}
		return out, nil
	}
}

// ==============================
// Chain construction
// ==============================

func TestEmptyChainFailsWithConfigError(t *testing.T) {
	h := &recHooks{}
	c := New[string, string](Options{Hooks: h})

	_, err := c.Load(context.Background(), "foo")
	if !errors.Is(err, ErrNoFinal) {
		t.Fatalf("want ErrNoFinal, got %v", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Key != "foo" {
		t.Fatalf("want ConfigError for foo, got %#v", err)
	}
	if got := h.snapshot().missing; got != 1 {
		t.Fatalf("FinalMissing count = %d, want 1", got)
	}
}

func TestLayerNames(t *testing.T) {
	c := New[string, string](Options{}).
		Use(newMemLayer("l1", nil)).
		Use(emptyLayer[string, string]{})

	got := c.Layers()
	want := []string{"empty_0", "l1_1", "empty_2"}
	if len(got) != len(want) {
		t.Fatalf("Layers() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Layers()[%d] = %q want %q", i, got[i], want[i])
		}
	}
	if n := layerName(&struct{ memLayer }{}); n == "" {
		t.Fatalf("layerName fallback returned empty")
	}
}

// ==============================
// Fallthrough + backfill
// ==============================

func TestSlowerLayerHitBackfillsFasterLayer(t *testing.T) {
	ctx := context.Background()
	a := newMemLayer("a", nil)
	b := newMemLayer("b", map[string]string{"foo": "bar"})
	c := New[string, string](Options{}).Use(a).Use(b)

	v, err := c.Load(ctx, "foo")
	if err != nil || v != "bar" {
		t.Fatalf("Load(foo) = %q, %v", v, err)
	}
	waitFor(t, "backfill of a", func() bool { _, ok := a.value("foo"); return ok })
	if got, _ := a.value("foo"); got != "bar" {
		t.Fatalf("a[foo] = %q", got)
	}
	if len(b.setCalls()) != 0 {
		t.Fatalf("the layer that hit must not be backfilled")
	}

	_, err = c.Load(ctx, "missing")
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Key != "missing" {
		t.Fatalf("Load(missing) err = %v, want ConfigError", err)
	}
}

func TestEachFasterLayerGetsExactlyOneBackfill(t *testing.T) {
	ctx := context.Background()
	l1 := newMemLayer("l1", nil)
	l2 := newMemLayer("l2", nil)
	l3 := newMemLayer("l3", map[string]string{"k": "deep"})
	c := New[string, string](Options{}).Use(l1).Use(l2).Use(l3)

	v, err := c.Load(ctx, "k")
	if err != nil || v != "deep" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	for _, l := range []*memLayer{l1, l2} {
		l := l
		waitFor(t, l.name+" backfill", func() bool { return len(l.setCalls()) > 0 })
	}
	time.Sleep(20 * time.Millisecond)
	for _, l := range []*memLayer{l1, l2} {
		sets := l.setCalls()
		if len(sets) != 1 || sets[0]["k"] != "deep" {
			t.Fatalf("%s backfills = %v, want exactly one with k", l.name, sets)
		}
	}
	if len(l3.setCalls()) != 0 {
		t.Fatalf("l3 should not be backfilled")
	}
}

func TestSecondLoadServedFromBackfilledLayer(t *testing.T) {
	ctx := context.Background()
	l1 := newMemLayer("l1", nil)
	calls := 0
	var mu sync.Mutex
	c := New[string, string](Options{}).Use(l1).Final(func(_ context.Context, keys []string) ([]Result[string], error) {
		mu.Lock()
		calls++
		mu.Unlock()
		out := make([]Result[string], len(keys))
		for i, k := range keys {
			out[i] = Hit("v:" + k)
		}
		return out, nil
	})

	if v, err := c.Load(ctx, "a"); err != nil || v != "v:a" {
		t.Fatalf("first Load = %q, %v", v, err)
	}
	waitFor(t, "backfill", func() bool { _, ok := l1.value("a"); return ok })
	if v, err := c.Load(ctx, "a"); err != nil || v != "v:a" {
		t.Fatalf("second Load = %q, %v", v, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("final called %d times, want 1", calls)
	}
}

func TestZeroValueIsAHit(t *testing.T) {
	l := newMemLayer("l", map[string]string{"empty": ""})
	c := New[string, string](Options{}).Use(l) // no final: a fallthrough would fail

	v, err := c.Load(context.Background(), "empty")
	if err != nil || v != "" {
		t.Fatalf("Load(empty) = %q, %v", v, err)
	}
}

// ==============================
// Errors
// ==============================

func TestLoadManyIndependentOutcomes(t *testing.T) {
	l := newMemLayer("l", map[string]string{"a": "A"})
	c := New[string, string](Options{}).Use(l).Final(mapFetch(nil))

	res := c.LoadMany(context.Background(), []string{"a", "b"})
	if len(res) != 2 {
		t.Fatalf("len = %d", len(res))
	}
	if !res[0].OK() || res[0].Value != "A" {
		t.Fatalf("a = %+v", res[0])
	}
	var fe *FetchError
	if res[1].OK() || !errors.As(res[1].Err, &fe) || fe.Key != "b" {
		t.Fatalf("b = %+v, want FetchError", res[1])
	}
}

func TestFinalWholesaleFailureFailsEveryKey(t *testing.T) {
	h := &recHooks{}
	boom := errors.New("db down")
	c := New[string, string](Options{Hooks: h}).Final(func(context.Context, []string) ([]Result[string], error) {
		return nil, boom
	})

	res := c.LoadMany(context.Background(), []string{"a", "b", "c"})
	for i, r := range res {
		if !errors.Is(r.Err, boom) {
			t.Fatalf("res[%d].Err = %v, want wrapped boom", i, r.Err)
		}
	}
	if h.snapshot().finalFailed == 0 {
		t.Fatalf("FinalFailed hook not called")
	}
}

func TestLayerWholesaleFailureFallsThrough(t *testing.T) {
	h := &recHooks{}
	bad := newMemLayer("bad", nil)
	bad.getErr = errors.New("connection reset")
	c := New[string, string](Options{Hooks: h}).
		Use(bad).
		Final(mapFetch(map[string]string{"k": "v"}))

	v, err := c.Load(context.Background(), "k")
	if err != nil || v != "v" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	if got := h.snapshot().layerFailed; len(got) != 1 || got[0] != "bad_1" {
		t.Fatalf("LayerFailed = %v", got)
	}
}

type shortLayer struct{ emptyLayer[string, string] }

func (shortLayer) BatchGet(context.Context, []string) ([]Result[string], error) {
	return []Result[string]{}, nil
}

func TestWrongResultLengthIsWholesaleFailure(t *testing.T) {
	h := &recHooks{}
	c := New[string, string](Options{Hooks: h}).
		Use(shortLayer{}).
		Final(mapFetch(map[string]string{"k": "v"}))

	if v, err := c.Load(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	if len(h.snapshot().layerFailed) != 1 {
		t.Fatalf("bad length not reported")
	}
}

func TestWriteBackFailureIsIsolated(t *testing.T) {
	h := &recHooks{}
	l := newMemLayer("l", nil)
	l.setErr = errors.New("read-only replica")
	c := New[string, string](Options{Hooks: h}).
		Use(l).
		Final(mapFetch(map[string]string{"k": "v"}))

	if v, err := c.Load(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	waitFor(t, "WriteBackFailed", func() bool { return len(h.snapshot().writeBacks) > 0 })
	wb := h.snapshot().writeBacks[0]
	if wb.Layer != "l_1" || wb.Keys != 1 || !errors.Is(wb, l.setErr) {
		t.Fatalf("WriteBackError = %+v", wb)
	}
}

type panickyLayer struct{ emptyLayer[string, string] }

func (panickyLayer) BatchSet(context.Context, map[string]string) error { panic("boom") }

func TestWriteBackPanicIsIsolated(t *testing.T) {
	h := &recHooks{}
	c := New[string, string](Options{Hooks: h}).
		Use(panickyLayer{}).
		Final(mapFetch(map[string]string{"k": "v"}))

	if v, err := c.Load(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	waitFor(t, "WriteBackFailed", func() bool { return len(h.snapshot().writeBacks) > 0 })
}

type panickyGetLayer struct{ emptyLayer[string, string] }

func (panickyGetLayer) BatchGet(context.Context, []string) ([]Result[string], error) {
	panic("get boom")
}

func TestLayerBatchGetPanicFallsThrough(t *testing.T) {
	h := &recHooks{}
	c := New[string, string](Options{Hooks: h}).
		Use(panickyGetLayer{}).
		Final(mapFetch(map[string]string{"k": "v"}))

	if v, err := c.Load(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("Load(k) = %q, %v", v, err)
	}
	if got := h.snapshot().layerFailed; len(got) != 1 || got[0] != "empty_1" {
		t.Fatalf("LayerFailed = %v", got)
	}
}

func TestFinalPanicFailsEveryKey(t *testing.T) {
	h := &recHooks{}
	c := New[string, string](Options{Hooks: h, Window: 20 * time.Millisecond}).
		Final(func(context.Context, []string) ([]Result[string], error) {
			panic("fetch boom")
		})

	res := c.LoadMany(context.Background(), []string{"a", "b"})
	for i, r := range res {
		var fe *FetchError
		if !errors.As(r.Err, &fe) {
			t.Fatalf("res[%d].Err = %v, want *FetchError", i, r.Err)
		}
	}
	if h.snapshot().finalFailed == 0 {
		t.Fatalf("FinalFailed not reported")
	}
}

// ==============================
// Final fetcher replacement
// ==============================

func TestFinalSwapDoesNotAffectDispatchedBatch(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	c := New[string, string](Options{}).Final(func(_ context.Context, keys []string) ([]Result[string], error) {
		close(entered)
		<-release
		out := make([]Result[string], len(keys))
		for i := range keys {
			out[i] = Hit("old")
		}
		return out, nil
	})

	done := make(chan string, 1)
	go func() {
		v, _ := c.Load(ctx, "k")
		done <- v
	}()
	<-entered

	c.Final(mapFetch(map[string]string{"k": "new"}))
	close(release)

	if v := <-done; v != "old" {
		t.Fatalf("in-flight load = %q, want old", v)
	}
	if v, err := c.Load(ctx, "k"); err != nil || v != "new" {
		t.Fatalf("post-swap load = %q, %v", v, err)
	}

	c.Final(nil)
	if _, err := c.Load(ctx, "k"); !errors.Is(err, ErrNoFinal) {
		t.Fatalf("after Final(nil) err = %v", err)
	}
}

// ==============================
// Concurrency through the whole chain
// ==============================

func TestLoadManyBatchesPerLayer(t *testing.T) {
	l1 := newMemLayer("l1", map[string]string{"a": "1"})
	l2 := newMemLayer("l2", map[string]string{"b": "2", "c": "3"})
	c := New[string, string](Options{Window: 20 * time.Millisecond}).
		Use(l1).Use(l2).
		Final(mapFetch(map[string]string{"d": "4"}))

	res := c.LoadMany(context.Background(), []string{"a", "b", "c", "d", "a"})
	want := []string{"1", "2", "3", "4", "1"}
	for i, r := range res {
		if r.Err != nil || r.Value != want[i] {
			t.Fatalf("res[%d] = %+v want %q", i, r, want[i])
		}
	}

	gets := l1.getCalls()
	if len(gets) != 1 {
		t.Fatalf("l1 BatchGet calls = %v, want 1", gets)
	}
	sorted := append([]string(nil), gets[0]...)
	sort.Strings(sorted)
	if len(sorted) != 4 || sorted[0] != "a" || sorted[3] != "d" {
		t.Fatalf("l1 keys = %v, want deduplicated a..d", gets[0])
	}
	if g2 := l2.getCalls(); len(g2) != 1 || len(g2[0]) != 3 {
		t.Fatalf("l2 BatchGet calls = %v, want one call with b,c,d", g2)
	}
}
