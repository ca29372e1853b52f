package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	kind    Kind
	calls   int
	errs    []error
	html    string
}

func (f *fakeStrategy) Kind() Kind { return f.kind }

func (f *fakeStrategy) Fetch(ctx context.Context, url string, opts Options) (*Acquired, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return &Acquired{HTML: f.html, Metadata: AcquisitionMetadata{Strategy: f.kind}}, nil
}

func TestExecute_FirstStrategySucceeds_NoFallback(t *testing.T) {
	s := &fakeStrategy{kind: KindStaticFetch, html: "<div>content</div>"}
	chain := Chain{Name: "test", Entries: []ChainEntry{{s, time.Second}}}
	check := func(string) (int, error) { return 1, nil }

	res, err := Execute(context.Background(), chain, "http://x", Options{}, check, nil)
	require.NoError(t, err)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "<div>content</div>", res.Acquired.HTML)
}

func TestExecute_RetriesTransientThenFallsBack(t *testing.T) {
	failing := &fakeStrategy{kind: KindStaticFetch, errs: []error{
		&AcquireError{Kind: ErrTimeout},
		&AcquireError{Kind: ErrTimeout},
		&AcquireError{Kind: ErrTimeout},
	}}
	succeeding := &fakeStrategy{kind: KindBrowserRender, html: "<p>ok</p>"}
	chain := Chain{Name: "test", Entries: []ChainEntry{
		{failing, 30 * time.Millisecond},
		{succeeding, time.Second},
	}}
	check := func(string) (int, error) { return 1, nil }

	res, err := Execute(context.Background(), chain, "http://x", Options{}, check, nil)
	require.NoError(t, err)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 3, failing.calls)
	assert.Equal(t, "<p>ok</p>", res.Acquired.HTML)
}

func TestExecute_NonTransientErrorSkipsRetry(t *testing.T) {
	blocked := &fakeStrategy{kind: KindStaticFetch, errs: []error{&AcquireError{Kind: ErrBlocked}}}
	chain := Chain{Name: "test", Entries: []ChainEntry{{blocked, time.Second}}}

	_, err := Execute(context.Background(), chain, "http://x", Options{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, blocked.calls)
}

func TestExecute_AllFail_UsesEmergencyFallbackPartial(t *testing.T) {
	failing := &fakeStrategy{kind: KindStaticFetch, errs: []error{&AcquireError{Kind: ErrBlocked}}}
	chain := Chain{Name: "test", Entries: []ChainEntry{{failing, time.Second}}}
	emergency := &fakeStrategy{kind: KindStaticFetch, html: "<html>fallback</html>"}

	res, err := Execute(context.Background(), chain, "http://x", Options{}, nil, emergency)
	require.NoError(t, err)
	assert.True(t, res.Acquired.Metadata.Partial)
	assert.True(t, res.FallbackUsed)
}

func TestExecute_AllFailNoEmergency_ReturnsError(t *testing.T) {
	failing := &fakeStrategy{kind: KindStaticFetch, errs: []error{&AcquireError{Kind: ErrBlocked}}}
	chain := Chain{Name: "test", Entries: []ChainEntry{{failing, time.Second}}}

	_, err := Execute(context.Background(), chain, "http://x", Options{}, nil, nil)
	assert.Error(t, err)
}

func TestExecute_InvalidContentSkipsStrategy(t *testing.T) {
	empty := &fakeStrategy{kind: KindStaticFetch, html: "<div></div>"}
	good := &fakeStrategy{kind: KindBrowserRender, html: "<div>real content</div>"}
	chain := Chain{Name: "test", Entries: []ChainEntry{{empty, time.Second}, {good, time.Second}}}

	calls := 0
	check := func(html string) (int, error) {
		calls++
		if html == "<div></div>" {
			return 0, nil
		}
		return 1, nil
	}

	res, err := Execute(context.Background(), chain, "http://x", Options{}, check, nil)
	require.NoError(t, err)
	assert.Equal(t, "<div>real content</div>", res.Acquired.HTML)
	assert.Equal(t, 2, calls)
}

func TestAcquireError_TransientClassification(t *testing.T) {
	assert.True(t, (&AcquireError{Kind: ErrTimeout}).transient())
	assert.True(t, (&AcquireError{Kind: ErrUnreachable}).transient())
	assert.False(t, (&AcquireError{Kind: ErrBlocked}).transient())
	assert.False(t, (&AcquireError{Kind: ErrInvalidResponse}).transient())
}

func TestSelector_RecordsAndBiasesChainOrder(t *testing.T) {
	sel := NewSelector()
	sel.Record("react", KindStaticFetch, false)
	sel.Record("react", KindStaticFetch, false)
	sel.Record("react", KindBrowserJS, true)
	sel.Record("react", KindBrowserJS, true)

	s1 := &fakeStrategy{kind: KindStaticFetch}
	s2 := &fakeStrategy{kind: KindBrowserJS}
	chain := Chain{Entries: []ChainEntry{{s1, time.Second}, {s2, time.Second}}}

	reordered := sel.Choose("react", chain)
	assert.Equal(t, KindBrowserJS, reordered.Entries[0].Strategy.Kind())
}

func TestSelector_UnseenPairDefaultsNeutral(t *testing.T) {
	sel := NewSelector()
	assert.Equal(t, 0.5, sel.SuccessRate("unknown", KindHybrid))
}

func TestBuildChains_ContainsAllFivePredefined(t *testing.T) {
	s := &fakeStrategy{kind: KindStaticFetch}
	chains := BuildChains(s, s, s, s, time.Second, time.Second, time.Second, time.Second)
	for _, ct := range []ChainType{ChainFast, ChainQuality, ChainBalanced, ChainCostOptimized, ChainRobust} {
		_, ok := chains[ct]
		assert.True(t, ok, "missing chain %s", ct)
	}
}

func TestHybridStrategy_PrefersStaticWhenContentRich(t *testing.T) {
	static := &fakeStrategy{kind: KindStaticFetch, html: "<p>" + repeatText("word ", 200) + "</p>"}
	browser := &fakeStrategy{kind: KindBrowserRender, html: "<div id='root'></div>"}
	h := NewHybrid(static, browser)

	acquired, err := h.Fetch(context.Background(), "http://x", Options{})
	require.NoError(t, err)
	assert.Equal(t, KindHybrid, acquired.Metadata.Strategy)
	assert.Equal(t, 0, browser.calls)
}

func TestHybridStrategy_EscalatesToBrowserForJSShell(t *testing.T) {
	static := &fakeStrategy{kind: KindStaticFetch, html: `<div id="root" class="app-abc-123-def-456-ghi-789"></div>`}
	browser := &fakeStrategy{kind: KindBrowserRender, html: "<p>rendered content here</p>"}
	h := NewHybrid(static, browser)

	acquired, err := h.Fetch(context.Background(), "http://x", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, browser.calls)
	assert.Contains(t, acquired.HTML, "rendered content")
}

func TestRunWithRetry_ContextCancelledDuringBackoffReturnsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := &fakeStrategy{kind: KindStaticFetch, errs: []error{
		&AcquireError{Kind: ErrTimeout}, &AcquireError{Kind: ErrTimeout},
	}}
	_, err := runWithRetry(ctx, ChainEntry{failing, 10 * time.Millisecond}, "http://x", Options{})
	assert.Error(t, err)
}

func repeatText(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
