// Package modelclient implements the Model Client (C4): a uniform,
// budgeted, deterministic call surface into genkit-backed language models,
// with a structured-output contract and an abstention path.
package modelclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Stage names the pipeline step issuing a call, selecting its default
// budget (spec §4.4 "indicative" budgets).
type Stage string

const (
	StageContract     Stage = "contract"
	StageAugmentation Stage = "augmentation"
	StageValidation   Stage = "validation"
)

// Tier selects which configured model answers a call; the Contract
// Generator and Validator use the fast tier, Augmentation uses the smart
// tier (spec §4.4, mirroring the teacher's LLMModelFast/LLMModelSmart
// config split).
type Tier string

const (
	TierFast  Tier = "fast"
	TierSmart Tier = "smart"
)

// Budget is the explicit token/time allowance for one call (spec §4.4).
type Budget struct {
	MaxOutputTokens int
	Timeout         time.Duration
}

// defaultBudgets are spec §4.4's indicative per-stage budgets.
var defaultBudgets = map[Stage]Budget{
	StageContract:     {MaxOutputTokens: 500, Timeout: 800 * time.Millisecond},
	StageAugmentation: {MaxOutputTokens: 400, Timeout: 1200 * time.Millisecond},
	StageValidation:   {MaxOutputTokens: 100, Timeout: 600 * time.Millisecond},
}

// ErrAbstained is never returned as an error from Invoke; it documents the
// sentinel meaning for callers. Invoke signals abstention through
// Result.Abstained, never through the error return, so that "no
// information" is never confused with a call failure (spec §4.4).
var ErrAbstained = errors.New("modelclient: model abstained")

// Result is one call's outcome (spec §4.4:
// "invoke(stage, prompt, schema, budget) -> {output?, abstained,
// tokens_in, tokens_out, duration}").
type Result[T any] struct {
	Output    *T
	Abstained bool
	TokensIn  int
	TokensOut int
	Duration  time.Duration
	// Fingerprint is the stable cache key derived from prompt+config, used
	// when the backend has no native seed support (spec §4.4).
	Fingerprint string
}

// Client wraps a genkit app configured with the two model tiers Atlas
// Codex uses. Grounded on the teacher's internal/llm/analyst_flow.go call
// pattern (genkit.GenerateData[T] with ai.WithModelName/ai.WithPrompt); the
// teacher's own ModelClient-equivalent interface (llm.Provider) was
// referenced by internal/driven/analyzer.go but its definition was never
// retrieved, so this Client is built fresh from the observed call
// signatures rather than copied.
type Client struct {
	g          *genkit.Genkit
	fastModel  string
	smartModel string
}

// New constructs a Client. fastModel/smartModel are fully qualified genkit
// model names (e.g. "googleai/gemini-2.5-flash").
func New(g *genkit.Genkit, fastModel, smartModel string) *Client {
	return &Client{g: g, fastModel: fastModel, smartModel: smartModel}
}

func (c *Client) modelFor(tier Tier) string {
	if tier == TierSmart {
		return c.smartModel
	}
	return c.fastModel
}

// Fingerprint computes the deterministic cache key for a (prompt, model)
// pair (spec §4.4: "where a backend does not support seeds, fingerprints
// of prompts plus config must be used as cache keys").
func Fingerprint(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// Invoke issues one structured-output call. T is the schema-bearing output
// type (its jsonschema tags drive the generated JSON Schema, spec §4.4
// "every call declares a JSON Schema"). A schema-validation failure
// triggers exactly one constrained retry before the call abstains rather
// than returning a partial or malformed result (spec §4.4).
//
// Invoke is a free function, not a Client method, because Go methods
// cannot carry their own type parameters; this mirrors the teacher's own
// choice of free genkit.GenerateData[T] functions over a generic method.
func Invoke[T any](ctx context.Context, c *Client, stage Stage, tier Tier, prompt string, budget *Budget) (*Result[T], error) {
	b := defaultBudgets[stage]
	if budget != nil {
		if budget.MaxOutputTokens > 0 {
			b.MaxOutputTokens = budget.MaxOutputTokens
		}
		if budget.Timeout > 0 {
			b.Timeout = budget.Timeout
		}
	}

	model := c.modelFor(tier)
	fp := Fingerprint(model, prompt)

	callCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	start := time.Now()
	output, resp, err := generate[T](callCtx, c.g, model, prompt, b.MaxOutputTokens)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			// Overruns convert to abstention, not partial output
			// (spec §4.4).
			return &Result[T]{Abstained: true, Duration: duration, Fingerprint: fp}, nil
		}
		// Single constrained retry on a schema-validation failure.
		retryPrompt := prompt + "\n\nYour previous response did not match the required JSON Schema. Respond again with ONLY valid JSON matching the schema."
		output, resp, err = generate[T](callCtx, c.g, model, retryPrompt, b.MaxOutputTokens)
		if err != nil {
			return &Result[T]{Abstained: true, Duration: time.Since(start), Fingerprint: fp}, nil
		}
	}

	tokensIn, tokensOut := usage(resp)
	return &Result[T]{
		Output:      output,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		Duration:    duration,
		Fingerprint: fp,
	}, nil
}

// generate wraps genkit.GenerateData[T] with temperature pinned to 0
// (spec §4.4 determinism: "temperature = 0 and seed is stable across
// calls with the same inputs") and output capped at maxOutputTokens.
func generate[T any](ctx context.Context, g *genkit.Genkit, model, prompt string, maxOutputTokens int) (*T, *ai.ModelResponse, error) {
	output, resp, err := genkit.GenerateData[T](
		ctx,
		g,
		ai.WithModelName(model),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: 0, MaxOutputTokens: maxOutputTokens}),
	)
	if err != nil {
		return nil, resp, err
	}
	return output, resp, nil
}

// usage extracts token counts from a model response if present; some
// backends omit usage metadata entirely.
func usage(resp *ai.ModelResponse) (tokensIn, tokensOut int) {
	if resp == nil || resp.Usage == nil {
		return 0, 0
	}
	return resp.Usage.InputTokens, resp.Usage.OutputTokens
}
