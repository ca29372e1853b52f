// Package strategy implements Strategy & Fallback (C9): content
// acquisition strategies (static_fetch, browser_render, browser_js,
// hybrid), ordered fallback chains with per-strategy timeouts, transient
// retry with backoff, and an emergency fallback. A Selector biases future
// choices with a per-(framework, strategy) success-rate estimator.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Kind enumerates the acquisition strategies spec §4.9 names.
type Kind string

const (
	KindStaticFetch   Kind = "static_fetch"
	KindBrowserRender Kind = "browser_render"
	KindBrowserJS     Kind = "browser_js"
	KindHybrid        Kind = "hybrid"
)

// AcquireErrorKind enumerates the typed errors a strategy may raise
// (spec §6 "Content acquisition interface").
type AcquireErrorKind string

const (
	ErrTimeout        AcquireErrorKind = "timeout"
	ErrUnreachable    AcquireErrorKind = "unreachable"
	ErrBlocked        AcquireErrorKind = "blocked"
	ErrInvalidResponse AcquireErrorKind = "invalid-response"
)

// AcquireError is the typed error every strategy.Fetch may return.
type AcquireError struct {
	Kind AcquireErrorKind
	Err  error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strategy: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("strategy: %s", e.Kind)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// transient reports whether a retry of the same strategy might succeed:
// timeouts and unreachable errors (connection resets, name-resolution
// failures, 5xx responses) are retried. Blocked responses, which include
// HTTP 429 rate limits, are not retried.
func (e *AcquireError) transient() bool {
	switch e.Kind {
	case ErrTimeout, ErrUnreachable:
		return true
	default:
		return false
	}
}

// AcquisitionMetadata describes how a strategy obtained its HTML.
type AcquisitionMetadata struct {
	Strategy   Kind          `json:"strategy"`
	Framework  string        `json:"framework,omitempty"`
	Partial    bool          `json:"partial"`
	Duration   time.Duration `json:"duration"`
	StatusCode int           `json:"status_code,omitempty"`
}

// CostEstimate is a strategy's declared resource cost, used by the
// Selector to bias future choices.
type CostEstimate struct {
	TimeMS  int64   `json:"time_ms"`
	Dollars float64 `json:"dollars,omitempty"`
}

// Acquired is one strategy's successful result (spec §6).
type Acquired struct {
	HTML     string
	Metadata AcquisitionMetadata
	Cost     CostEstimate
}

// Options mirrors spec §6's per-request acquisition options.
type Options struct {
	PreferredStrategy string
	Framework         string
}

// Strategy is a pluggable content-acquisition black box (spec §6):
// `fetch(url, options) -> {html, acquisition_metadata, cost_estimate}`,
// raising only the four typed errors.
type Strategy interface {
	Kind() Kind
	Fetch(ctx context.Context, url string, opts Options) (*Acquired, error)
}

// httpDoer lets tests substitute a fake transport without depending on a
// live network, mirroring the teacher's proxy/http-client seam.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// staticFetchStrategy fetches raw HTML with no JavaScript execution. It is
// the cheapest, fastest strategy and the base of the emergency fallback.
type staticFetchStrategy struct {
	client httpDoer
}

// NewStaticFetch constructs the static_fetch strategy over client (or
// http.DefaultClient if nil).
func NewStaticFetch(client *http.Client) Strategy {
	if client == nil {
		client = http.DefaultClient
	}
	return &staticFetchStrategy{client: client}
}

func (s *staticFetchStrategy) Kind() Kind { return KindStaticFetch }

func (s *staticFetchStrategy) Fetch(ctx context.Context, url string, _ Options) (*Acquired, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &AcquireError{Kind: ErrInvalidResponse, Err: err}
	}
	req.Header.Set("User-Agent", "AtlasCodex/1.0 (+static-fetch)")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &AcquireError{Kind: ErrTimeout, Err: err}
		}
		return nil, &AcquireError{Kind: ErrUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return nil, &AcquireError{Kind: ErrBlocked, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, &AcquireError{Kind: ErrUnreachable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AcquireError{Kind: ErrInvalidResponse, Err: err}
	}
	if len(body) == 0 {
		return nil, &AcquireError{Kind: ErrInvalidResponse, Err: errors.New("empty body")}
	}

	return &Acquired{
		HTML: string(body),
		Metadata: AcquisitionMetadata{
			Strategy:   KindStaticFetch,
			Duration:   time.Since(start),
			StatusCode: resp.StatusCode,
		},
		Cost: CostEstimate{TimeMS: time.Since(start).Milliseconds()},
	}, nil
}

// Renderer is the minimal seam over a headless browser (spec §1: "treated
// as a pluggable content acquisition strategy"); concrete wiring (e.g.
// go-rod) lives behind this interface so strategy stays independently
// testable.
type Renderer interface {
	// Render returns the fully rendered HTML for url, bounded by ctx.
	// execJS asks for the fuller browser_js wait; whether page scripts run
	// when it is false is up to the implementation (RodRenderer runs them
	// in both cases).
	Render(ctx context.Context, url string, execJS bool) (string, error)
}

// browserStrategy drives a Renderer; execJS distinguishes browser_render
// (DOM after load, no script execution budget) from browser_js (full JS
// execution budget) per spec §4.9.
type browserStrategy struct {
	kind     Kind
	renderer Renderer
	execJS   bool
}

// NewBrowserRender constructs the browser_render strategy.
func NewBrowserRender(r Renderer) Strategy {
	return &browserStrategy{kind: KindBrowserRender, renderer: r, execJS: false}
}

// NewBrowserJS constructs the browser_js strategy.
func NewBrowserJS(r Renderer) Strategy {
	return &browserStrategy{kind: KindBrowserJS, renderer: r, execJS: true}
}

func (s *browserStrategy) Kind() Kind { return s.kind }

func (s *browserStrategy) Fetch(ctx context.Context, url string, _ Options) (*Acquired, error) {
	start := time.Now()
	html, err := s.renderer.Render(ctx, url, s.execJS)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &AcquireError{Kind: ErrTimeout, Err: err}
		}
		return nil, &AcquireError{Kind: ErrUnreachable, Err: err}
	}
	if strings.TrimSpace(html) == "" {
		return nil, &AcquireError{Kind: ErrInvalidResponse, Err: errors.New("empty render")}
	}
	return &Acquired{
		HTML: html,
		Metadata: AcquisitionMetadata{
			Strategy: s.kind,
			Duration: time.Since(start),
		},
		Cost: CostEstimate{TimeMS: time.Since(start).Milliseconds()},
	}, nil
}

// hybridStrategy tries static_fetch first and escalates to the browser
// strategy if the static fetch fails or its result looks JS-shell-only (very little
// text content relative to markup) — a cheap heuristic standing in for a
// real framework-detection signal.
type hybridStrategy struct {
	static  Strategy
	browser Strategy
}

// NewHybrid constructs the hybrid strategy.
func NewHybrid(static, browser Strategy) Strategy {
	return &hybridStrategy{static: static, browser: browser}
}

func (s *hybridStrategy) Kind() Kind { return KindHybrid }

func (s *hybridStrategy) Fetch(ctx context.Context, url string, opts Options) (*Acquired, error) {
	acquired, err := s.static.Fetch(ctx, url, opts)
	if err == nil && !looksLikeJSShell(acquired.HTML) {
		acquired.Metadata.Strategy = KindHybrid
		return acquired, nil
	}
	browserAcquired, browserErr := s.browser.Fetch(ctx, url, opts)
	if browserErr != nil {
		if err != nil {
			return nil, err
		}
		return acquired, nil
	}
	browserAcquired.Metadata.Strategy = KindHybrid
	return browserAcquired, nil
}

// looksLikeJSShell is a cheap heuristic: a page whose body text is much
// shorter than its markup is likely a client-rendered shell.
func looksLikeJSShell(html string) bool {
	if len(html) == 0 {
		return true
	}
	textLen := len(strings.Join(strings.Fields(stripTags(html)), " "))
	return float64(textLen)/float64(len(html)) < 0.02
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// ChainEntry is one (strategy, timeout) pair in an ordered fallback chain
// (spec §4.9).
type ChainEntry struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Chain is an ordered fallback chain.
type Chain struct {
	Name    string
	Entries []ChainEntry
}

// ChainType names spec §4.9's five predefined chains.
type ChainType string

const (
	ChainFast         ChainType = "fast"
	ChainQuality      ChainType = "quality"
	ChainBalanced     ChainType = "balanced"
	ChainCostOptimized ChainType = "cost-optimized"
	ChainRobust       ChainType = "robust"
)

// BuildChains assembles spec §4.9's five predefined chains from the four
// concrete strategies and the config's default per-strategy timeouts.
func BuildChains(static, browserRender, browserJS, hybrid Strategy, staticTO, browserTO, jsTO, hybridTO time.Duration) map[ChainType]Chain {
	return map[ChainType]Chain{
		ChainFast: {
			Name:    string(ChainFast),
			Entries: []ChainEntry{{static, staticTO}},
		},
		ChainQuality: {
			Name: string(ChainQuality),
			Entries: []ChainEntry{
				{browserJS, jsTO},
				{browserRender, browserTO},
				{static, staticTO},
			},
		},
		ChainBalanced: {
			Name: string(ChainBalanced),
			Entries: []ChainEntry{
				{hybrid, hybridTO},
				{static, staticTO},
			},
		},
		ChainCostOptimized: {
			Name: string(ChainCostOptimized),
			Entries: []ChainEntry{
				{static, staticTO},
				{browserRender, browserTO},
			},
		},
		ChainRobust: {
			Name: string(ChainRobust),
			Entries: []ChainEntry{
				{static, staticTO},
				{hybrid, hybridTO},
				{browserRender, browserTO},
				{browserJS, jsTO},
			},
		},
	}
}

// ValidityCheck decides whether acquired HTML is "valid" per spec §4.9:
// "yields at least one detected content block in C3". The caller supplies
// this (built from the Anchor Index + a block count) rather than strategy
// depending on the anchor package directly, avoiding an import cycle
// between C1 and C9.
type ValidityCheck func(html string) (blockCount int, err error)

// Result is what Execute returns: the winning strategy's output plus the
// bookkeeping spec §7's E_FALLBACK_USED / E_ALL_STRATEGIES_FAILED and
// §4.9's "flagged partial: true" emergency fallback require.
type Result struct {
	Acquired     *Acquired
	FallbackUsed bool
	Attempts     []AttemptLog
}

// AttemptLog records one strategy attempt for telemetry (spec §4.10
// FallbackTaken event).
type AttemptLog struct {
	Strategy Kind
	Attempt  int
	Err      error
}

// Execute runs chain in order, each entry bounded by its timeout, retrying
// transient errors with exponential backoff (1x, 2x) before moving to the
// next chain entry, and validating acquired HTML with check. All entries
// failing invokes the emergency fallback: a bare static fetch flagged
// partial (spec §4.9).
func Execute(ctx context.Context, chain Chain, url string, opts Options, check ValidityCheck, emergency Strategy) (*Result, error) {
	res := &Result{}

	for i, entry := range chain.Entries {
		acquired, err := runWithRetry(ctx, entry, url, opts)
		if err != nil {
			res.Attempts = append(res.Attempts, AttemptLog{Strategy: entry.Strategy.Kind(), Attempt: i, Err: err})
			continue
		}

		if check != nil {
			blocks, verr := check(acquired.HTML)
			if verr != nil || blocks == 0 {
				res.Attempts = append(res.Attempts, AttemptLog{Strategy: entry.Strategy.Kind(), Attempt: i, Err: errors.New("no content block detected")})
				continue
			}
		}

		if i > 0 {
			res.FallbackUsed = true
		}
		res.Acquired = acquired
		return res, nil
	}

	// Emergency fallback: static fetch of HTML + minimal metadata, flagged
	// partial (spec §4.9).
	if emergency != nil {
		acquired, err := emergency.Fetch(ctx, url, opts)
		if err == nil {
			acquired.Metadata.Partial = true
			res.Acquired = acquired
			res.FallbackUsed = true
			return res, nil
		}
		res.Attempts = append(res.Attempts, AttemptLog{Strategy: emergency.Kind(), Attempt: len(chain.Entries), Err: err})
	}

	return res, errors.New("strategy: all strategies failed")
}

// runWithRetry bounds one chain entry by its timeout and retries only
// transient errors with 1x/2x exponential backoff (spec §4.9); a
// non-transient error skips remaining retries for that strategy.
func runWithRetry(ctx context.Context, entry ChainEntry, url string, opts Options) (*Acquired, error) {
	var lastErr error
	backoff := entry.Timeout / 10
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	for attempt := 0; attempt < 3; attempt++ {
		entryCtx, cancel := context.WithTimeout(ctx, entry.Timeout)
		acquired, err := entry.Strategy.Fetch(entryCtx, url, opts)
		cancel()
		if err == nil {
			return acquired, nil
		}
		lastErr = err

		var ae *AcquireError
		if !errors.As(err, &ae) || !ae.transient() {
			return nil, err
		}
		if attempt < 2 {
			select {
			case <-time.After(backoff * time.Duration(1<<uint(attempt))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// Selector scores strategies by per-(framework, strategy) historical
// success rate, biasing future chain ordering (spec §4.9). Grounded on
// ternarybob-quaero's item-count-driven Inline-vs-Parallel strategy
// switch and the teacher's SiteContextManager's mutex-protected map idiom.
type Selector struct {
	mu    sync.RWMutex
	stats map[string]*emaStat
}

type emaStat struct {
	successRate float64
	samples     int
}

// emaAlpha weights the most recent outcome against prior history.
const emaAlpha = 0.3

// NewSelector constructs an empty Selector.
func NewSelector() *Selector {
	return &Selector{stats: make(map[string]*emaStat)}
}

func key(framework string, kind Kind) string {
	return framework + "|" + string(kind)
}

// Record updates the exponential-moving-average success rate for
// (framework, kind).
func (s *Selector) Record(framework string, kind Kind, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	k := key(framework, kind)
	st, ok := s.stats[k]
	if !ok {
		s.stats[k] = &emaStat{successRate: outcome, samples: 1}
		return
	}
	st.successRate = emaAlpha*outcome + (1-emaAlpha)*st.successRate
	st.samples++
}

// SuccessRate returns the current estimate, defaulting to 0.5 (no prior
// data) so an unseen (framework, strategy) pair is neither favored nor
// penalized.
func (s *Selector) SuccessRate(framework string, kind Kind) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[key(framework, kind)]
	if !ok {
		return 0.5
	}
	return st.successRate
}

// Choose reorders chain.Entries by descending success rate for framework,
// a stable sort so entries with equal (untracked) scores keep the chain's
// declared order. Request options always override this policy (spec
// §4.9 "overridable by request options") — callers should skip Choose
// entirely when opts.PreferredStrategy is set.
func (s *Selector) Choose(framework string, chain Chain) Chain {
	entries := append([]ChainEntry(nil), chain.Entries...)
	scores := make([]float64, len(entries))
	for i, e := range entries {
		scores[i] = s.SuccessRate(framework, e.Strategy.Kind())
	}
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && scores[j] > scores[j-1] {
			scores[j], scores[j-1] = scores[j-1], scores[j]
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
	return Chain{Name: chain.Name, Entries: entries}
}
