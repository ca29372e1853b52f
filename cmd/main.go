// Command atlascodex is the CLI surface for Atlas Codex (spec §6): it runs
// a single extraction job to stdout, or validates a previously produced
// output bundle against its own output_schema. Grounded on the teacher's
// cmd/main.go genkit.Init(ctx, genkit.WithPlugins(...),
// genkit.WithDefaultModel(...)) startup sequence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/atlas-codex/atlas-codex/internal/cache"
	"github.com/atlas-codex/atlas-codex/internal/config"
	"github.com/atlas-codex/atlas-codex/internal/job"
	"github.com/atlas-codex/atlas-codex/internal/modelclient"
	"github.com/atlas-codex/atlas-codex/internal/models"
	"github.com/atlas-codex/atlas-codex/internal/storage"
	"github.com/atlas-codex/atlas-codex/internal/strategy"
	"github.com/atlas-codex/atlas-codex/internal/telemetry"
)

// Exit codes per spec §6.
const (
	exitSuccess             = 0
	exitUsage               = 2
	exitAbstained           = 3
	exitPipelineFailure     = 4
	exitAllStrategiesFailed = 5
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "validate":
		os.Exit(validateCommand(os.Args[2:]))
	default:
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: atlascodex run <url> <query> | atlascodex validate <bundle>")
}

// runCommand executes one extraction job end to end and prints the
// response JSON to stdout (spec §6 "run <url> <query> -> JSON to stdout").
func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	mode := fs.String("mode", "", "strict|soft")
	chainType := fs.String("chain", "balanced", "fast|quality|balanced|cost-optimized|robust")
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		usage()
		return exitUsage
	}
	url := fs.Arg(0)
	query := fs.Arg(1)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitPipelineFailure
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	g := genkit.Init(ctx, genkit.WithPlugins(
		&googlegenai.GoogleAI{APIKey: cfg.Model.APIKey},
	), genkit.WithDefaultModel(cfg.Model.ModelFast))

	mgr := buildManager(g, cfg)

	input := models.Input{
		URL:   url,
		Query: query,
		Mode:  models.Mode(*mode),
		Options: models.RequestOptions{
			ChainType: *chainType,
		},
	}

	j, err := mgr.Submit(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return exitPipelineFailure
	}

	resp := mgr.Run(ctx, j)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
		return exitPipelineFailure
	}

	switch resp.Status {
	case "success":
		return exitSuccess
	case "abstained":
		return exitAbstained
	case "failure":
		if resp.Metadata.Error != nil && resp.Metadata.Error.Code == models.ErrAllStrategiesFail {
			return exitAllStrategiesFailed
		}
		return exitPipelineFailure
	default:
		return exitPipelineFailure
	}
}

// validateCommand checks that a previously produced bundle's data
// conforms to its own output_schema (spec §6 "validate <bundle> -> exit 0
// on schema conformance").
func validateCommand(args []string) int {
	if len(args) != 1 {
		usage()
		return exitUsage
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read bundle: %v\n", err)
		return exitUsage
	}

	schemaResult := gjson.GetBytes(raw, "output_schema")
	dataResult := gjson.GetBytes(raw, "data")
	if !schemaResult.Exists() || !dataResult.Exists() {
		fmt.Fprintln(os.Stderr, "parse bundle: missing output_schema or data")
		return exitUsage
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaResult.Raw)
	documentLoader := gojsonschema.NewStringLoader(dataResult.Raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return exitPipelineFailure
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			fmt.Fprintln(os.Stderr, e.String())
		}
		return exitPipelineFailure
	}
	return exitSuccess
}

// buildManager wires every collaborator the Job Manager needs, following
// the control flow of spec §2: strategies feed chains, chains feed the
// Manager alongside the model client, cache, stores, and telemetry bus.
func buildManager(g *genkit.Genkit, cfg *config.Config) *job.Manager {
	modelClient := modelclient.New(g, cfg.Model.ModelFast, cfg.Model.ModelSmart)

	httpClient := &http.Client{Timeout: cfg.Strategy.StaticFetchTimeout}
	static := strategy.NewStaticFetch(httpClient)

	var renderer strategy.Renderer
	rodRenderer, err := strategy.NewRodRenderer()
	if err != nil {
		// Browser strategies degrade to a renderer that always misses
		// rather than block startup on a missing Chrome binary; the
		// fallback chains still function with static_fetch alone
		// (spec §4.9's chains tolerate a strategy that always misses).
		renderer = noRenderer{}
	} else {
		renderer = rodRenderer
	}
	browserRender := strategy.NewBrowserRender(renderer)
	browserJS := strategy.NewBrowserJS(renderer)
	hybrid := strategy.NewHybrid(static, browserRender)

	chains := strategy.BuildChains(static, browserRender, browserJS, hybrid,
		cfg.Strategy.StaticFetchTimeout, cfg.Strategy.BrowserRenderTimeout,
		cfg.Strategy.BrowserJSTimeout, cfg.Strategy.HybridTimeout)

	bus := telemetry.NewBus()
	go bus.Run()
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/telemetry", bus.ServeWS)
		_ = http.ListenAndServe(cfg.Telemetry.WebsocketAddr, mux)
	}()

	return job.New(job.Deps{
		Stores:        storage.NewMemoryJobStore(),
		Artifacts:     storage.NewMemoryArtifactStore(),
		Evidence:      storage.NewMemoryEvidenceStore(),
		Cache:         cache.New(cfg.Cache.NegativeTTL, cfg.Cache.ResultTTL),
		Bus:           bus,
		ModelClient:   modelClient,
		Chains:        chains,
		Selector:      strategy.NewSelector(),
		Emergency:     static,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
	})
}

// noRenderer is a last-resort Renderer that always errors, used when
// Chrome could not be launched; browser_render/browser_js then simply
// miss and every fallback chain falls through to static_fetch or the
// emergency fallback (spec §4.9).
type noRenderer struct{}

func (noRenderer) Render(_ context.Context, _ string, _ bool) (string, error) {
	return "", fmt.Errorf("strategy: no browser renderer available")
}
