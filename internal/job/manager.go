// Package job implements the Job Manager (C10): request ingestion,
// idempotency, the state-machine-driven pipeline orchestration across
// C1-C9 and C11, cancellation, and telemetry emission. Grounded on the
// teacher's internal/driven/context_manager.go SiteContextManager (a
// mutex-protected registry with a cleanup ticker and eviction-by-activity;
// here jobs live in the pluggable storage.JobStore, and no cleanup ticker
// or eviction is run) and internal/websocket/hub.go's
// broadcaster for the telemetry event stream.
package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/semaphore"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/augment"
	"github.com/atlas-codex/atlas-codex/internal/cache"
	"github.com/atlas-codex/atlas-codex/internal/contract"
	"github.com/atlas-codex/atlas-codex/internal/deterministic"
	"github.com/atlas-codex/atlas-codex/internal/executor"
	"github.com/atlas-codex/atlas-codex/internal/modelclient"
	"github.com/atlas-codex/atlas-codex/internal/models"
	"github.com/atlas-codex/atlas-codex/internal/negotiate"
	"github.com/atlas-codex/atlas-codex/internal/storage"
	"github.com/atlas-codex/atlas-codex/internal/strategy"
	"github.com/atlas-codex/atlas-codex/internal/telemetry"
)

// Response is the ingress-facing response shape (spec §6).
type Response struct {
	ContractID    string                 `json:"contract_id,omitempty"`
	Mode          models.Mode            `json:"mode,omitempty"`
	OutputSchema  map[string]any         `json:"output_schema,omitempty"`
	Data          []map[string]any       `json:"data,omitempty"`
	Metadata      Metadata               `json:"metadata"`
	Status        string                 `json:"status"`
}

// ErrorDetail is the error payload embedded in Metadata on failure
// (spec §7).
type ErrorDetail struct {
	Code    models.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Detail  map[string]any   `json:"detail,omitempty"`
}

// PromotedField summarizes one discoverable field the negotiator admitted
// (spec §6 metadata.promoted_fields).
type PromotedField struct {
	Name     string `json:"name"`
	Entities int    `json:"entities"`
	Blocks   int    `json:"blocks"`
	Promoted bool   `json:"promoted"`
}

// Metadata is spec §6's response metadata object.
type Metadata struct {
	CorrelationID   string               `json:"correlation_id"`
	ContentHash     string               `json:"content_hash,omitempty"`
	Cost            models.Cost          `json:"cost"`
	Timings         models.Timings       `json:"timings"`
	PromotedFields  []PromotedField      `json:"promoted_fields,omitempty"`
	RowsDropped     int                  `json:"rows_dropped_count"`
	FieldsOmitted   []string             `json:"fields_omitted,omitempty"`
	EvidenceSummary models.EvidenceSummary `json:"evidence_summary"`
	CacheHit        bool                 `json:"cache_hit,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	Error           *ErrorDetail         `json:"error,omitempty"`
	Partial         bool                 `json:"partial,omitempty"`
}

// Deps bundles the Job Manager's collaborators. Selector, Emergency,
// Artifacts, Evidence and Bus may be nil (the step that uses them is then
// skipped), and MaxConcurrent and SampleChars fall back to defaults when
// unset; the other fields are required.
type Deps struct {
	Stores        storage.JobStore
	Artifacts     storage.ArtifactStore
	Evidence      storage.EvidenceStore
	Cache         *cache.Cache
	Bus           *telemetry.Bus
	ModelClient   *modelclient.Client
	Chains        map[strategy.ChainType]strategy.Chain
	Selector      *strategy.Selector
	Emergency     strategy.Strategy
	MaxConcurrent int
	SampleChars   int // how many chars of normalized content to sample for contract generation
}

// Manager orchestrates jobs through the pipeline (spec §4.10, §5). It owns
// a bounded worker-pool semaphore and dispatches the per-job state
// machine; the AnchorIndex built mid-pipeline is owned exclusively by the
// job for its lifetime and discarded when the job finishes (spec §5).
type Manager struct {
	deps Deps
	sem  *semaphore.Weighted
}

// New constructs a Manager. MaxConcurrent defaults to 3 (spec §5) if unset.
func New(deps Deps) *Manager {
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = 3
	}
	if deps.SampleChars <= 0 {
		deps.SampleChars = 4000
	}
	return &Manager{deps: deps, sem: semaphore.NewWeighted(int64(deps.MaxConcurrent))}
}

// Submit creates a Job in the "created" state and saves it; it does not
// wait for a worker slot and does not run the pipeline. Call Run with the
// returned Job: Run waits for a worker slot until ctx is cancelled (spec §5
// backpressure: callers at the ingress layer are responsible for turning a
// long wait into a busy signal via ctx's deadline).
func (m *Manager) Submit(ctx context.Context, input models.Input) (*models.Job, error) {
	id := uuid.NewString()
	correlationID := uuid.NewString()
	j := models.NewJob(id, correlationID, "", input)
	if err := m.deps.Stores.SaveJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Run executes the full pipeline for job: acquire -> anchor -> contract ->
// two-track -> negotiate -> extract -> finalize (spec §2 control flow,
// §4.10 state machine). It acquires a worker-pool slot for the whole job
// and releases it on return, per spec §5's "parallel worker pool" model.
func (m *Manager) Run(ctx context.Context, j *models.Job) Response {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return m.failureResponse(j, models.NewPipelineError(models.ErrTimeoutStage, "queued", j.CorrelationID, "worker pool saturated", nil))
	}
	defer m.sem.Release(1)

	jobCtx, cancel := context.WithCancel(ctx)
	j.SetCancel(cancel)
	defer cancel()

	j.Transition(models.StatusQueued)
	m.saveQuiet(jobCtx, j)

	return m.runPipeline(jobCtx, j)
}

func (m *Manager) runPipeline(ctx context.Context, j *models.Job) Response {
	stageStart := time.Now()
	defer func() { j.Timings["total"] = time.Since(stageStart) }()

	// --- Acquiring ---
	j.Transition(models.StatusAcquiring)
	acquired, strategyErr := m.acquire(ctx, j)
	if strategyErr != nil {
		return m.failureResponse(j, strategyErr)
	}
	j.Partial = acquired.Metadata.Partial

	contentHash, err := anchor.ContentHash(acquired.HTML)
	if err != nil {
		return m.failureResponse(j, models.NewPipelineError(models.ErrValidationFail, "acquiring", j.CorrelationID, "content hash failed: "+err.Error(), nil))
	}
	j.ContentHash = contentHash

	// --- Anchoring ---
	j.Transition(models.StatusAnchoring)
	idx, err := anchor.Build(acquired.HTML)
	if err != nil {
		return m.failureResponse(j, models.NewPipelineError(models.ErrValidationFail, "anchoring", j.CorrelationID, "anchor index build failed: "+err.Error(), nil))
	}
	m.deps.Cache.PutContentDigest(contentHash, idx.Digest())

	// --- Contracting ---
	j.Transition(models.StatusContracting)
	schemaContract, abstained := m.resolveContract(ctx, j, idx, contentHash)
	j.ContractID = schemaContract.ContractID
	if j.Mode == "" {
		j.Mode = schemaContract.Mode
	}
	m.emit(telemetry.ContractGenerated, j.CorrelationID, map[string]any{"contract_id": schemaContract.ContractID, "abstained": abstained})

	idempotencyKey := models.ComputeIdempotencyKey(j.Input.URL, j.Input.Query, contentHash, schemaContract.ContractID)
	j.IdempotencyKey = idempotencyKey
	if cached, ok := m.deps.Cache.GetResult(idempotencyKey); ok {
		m.emit(telemetry.CacheHit, j.CorrelationID, map[string]any{"idempotency_key": idempotencyKey})
		j.Transition(models.StatusSuccess)
		m.saveQuiet(ctx, j)
		return m.resultResponse(j, cached, true)
	}

	// --- Two-track ---
	j.Transition(models.StatusTwoTrack)
	findings := deterministic.Run(idx, schemaContract)
	m.emit(telemetry.DeterministicPass, j.CorrelationID, map[string]any{"hits": len(findings.Hits), "misses": len(findings.Misses)})

	// An abstained contract proceeds deterministic-only: no augmentation call.
	augResult := &models.AugmentationResult{}
	var anchorMisses []augment.AnchorMiss
	if !abstained {
		augResult, anchorMisses = augment.Run(ctx, m.deps.ModelClient, idx, schemaContract, findings)
	}
	for _, miss := range anchorMisses {
		j.Log("augmentation", "warn", fmt.Sprintf("anchor_miss: %s %s: %s", miss.Kind, miss.Field, miss.Reason))
	}
	m.emit(telemetry.LLMAugmentation, j.CorrelationID, map[string]any{"completions": len(augResult.Completions), "new_fields": len(augResult.NewFieldProposals)})

	// --- Negotiating ---
	j.Transition(models.StatusNegotiating)
	negotiation := negotiate.Negotiate(schemaContract, findings, augResult)
	m.emit(telemetry.ContractValidation, j.CorrelationID, map[string]any{"status": string(negotiation.Status)})
	if negotiation.Status == models.NegotiationError {
		return m.failureResponse(j, models.NewPipelineError(models.ErrPromotionDenied, "negotiating", j.CorrelationID, negotiation.Reason, nil))
	}

	// --- Extracting ---
	j.Transition(models.StatusExtracting)
	data, demotedFields, execErr := executor.Assemble(idx, negotiation.FinalSchema, findings, augResult, j.Mode, "extracting", j.CorrelationID)
	if execErr != nil {
		return m.failureResponse(j, execErr)
	}

	// --- Finalizing ---
	j.Transition(models.StatusFinalizing)
	evidenceSummary := negotiation.EvidenceSummary
	emptyDOM := len(data) == 0 && !abstained
	if emptyDOM {
		// Contract succeeded but nothing was extractable from this page.
		// Not a failure and not an abstention (spec §8 "Empty DOM").
		evidenceSummary.ReliabilityScore = 0
	}
	result := models.ExtractionResult{
		ContractID:         schemaContract.ContractID,
		Mode:               j.Mode,
		Data:               data,
		FieldsOmitted:      negotiation.Changes.Pruned,
		PerFieldSupport:    findings.SupportMap,
		Cost:               j.Cost,
		Timings:            j.Timings,
		OutputSchema:       buildJSONSchema(negotiation.FinalSchema, demotedFields),
		EvidenceSummary:    evidenceSummary,
		PromotedFieldNames: negotiation.Changes.Added,
	}
	if len(data) == 0 && j.Mode == models.ModeStrict {
		result.DroppedEntityCount = len(negotiation.FinalSchema)
	}

	m.persistEvidence(ctx, j, idx, findings, augResult)
	m.persistArtifact(ctx, j, result)
	m.deps.Cache.PutResult(idempotencyKey, result)

	// E_CONTRACT_ABSTAIN triggers deterministic-only processing with the
	// default contract; the job only abstains if that deterministic pass
	// found nothing. A non-empty deterministic pass, or a contract that
	// never abstained in the first place, always succeeds (spec §7).
	if abstained && len(findings.Hits) == 0 {
		j.Transition(models.StatusAbstained)
		m.saveQuiet(ctx, j)
		resp := m.resultResponse(j, result, false)
		resp.Status = "abstained"
		resp.Metadata.Reason = "no evidence found on page"
		m.emit(telemetry.JobCompleted, j.CorrelationID, map[string]any{"status": "abstained"})
		return resp
	}

	j.Transition(models.StatusSuccess)
	m.saveQuiet(ctx, j)
	m.emit(telemetry.JobCompleted, j.CorrelationID, map[string]any{"status": "success"})
	return m.resultResponse(j, result, false)
}

// acquire runs Strategy & Fallback (C9) using the request's preferred
// chain (or "balanced" by default), biased by the Selector unless the
// request pins a preferredStrategy (spec §4.9 "overridable by request
// options").
func (m *Manager) acquire(ctx context.Context, j *models.Job) (*strategy.Acquired, *models.PipelineError) {
	chainType := strategy.ChainType(j.Input.Options.ChainType)
	if chainType == "" {
		chainType = strategy.ChainBalanced
	}
	chain, ok := m.deps.Chains[chainType]
	if !ok {
		chain = m.deps.Chains[strategy.ChainBalanced]
	}

	framework := "" // unknown until a strategy reports it; Selector defaults to neutral 0.5
	if j.Input.Options.PreferredStrategy == "" && m.deps.Selector != nil {
		chain = m.deps.Selector.Choose(framework, chain)
	}

	check := func(html string) (int, error) {
		idx, err := anchor.Build(html)
		if err != nil {
			return 0, err
		}
		return idx.BlockCount(), nil
	}

	opts := strategy.Options{PreferredStrategy: j.Input.Options.PreferredStrategy, Framework: framework}
	result, err := strategy.Execute(ctx, chain, j.Input.URL, opts, check, m.deps.Emergency)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrAllStrategiesFail, "acquiring", j.CorrelationID, "all acquisition strategies failed", map[string]any{"attempts": len(result.Attempts)})
	}
	if result.FallbackUsed {
		m.emit(telemetry.FallbackTaken, j.CorrelationID, map[string]any{"strategy": string(result.Acquired.Metadata.Strategy)})
	}
	if m.deps.Selector != nil {
		m.deps.Selector.Record(framework, result.Acquired.Metadata.Strategy, true)
	}
	return result.Acquired, nil
}

// resolveContract checks the content-addressed contract cache first
// (keyed by query-hash, content-hash per DESIGN.md's open-question
// decision), then calls the Contract Generator (C6), falling back to the
// default generic contract on abstention (spec §4.6, §7).
func (m *Manager) resolveContract(ctx context.Context, j *models.Job, idx *anchor.Index, contentHash string) (models.SchemaContract, bool) {
	queryHash := hashString(j.Input.Query)
	seed := int64(hashSeed(j.Input.URL + j.Input.Query))
	if entry, ok := m.deps.Cache.GetContract(queryHash, contentHash); ok {
		if entry.Contract != nil {
			return *entry.Contract, false
		}
		// Cached abstention: proceed straight to the default contract
		// without a further model call.
		return models.DefaultGenericContract(seed, time.Now().Unix()), true
	}

	sample := sampleText(idx, m.deps.SampleChars)
	c :=contract.Generate(ctx, m.deps.ModelClient, j.Input.Query, sample, seed, time.Now().Unix())

	if c.Generator == "default-generic-list" {
		m.deps.Cache.PutAbstain(queryHash, contentHash, "insufficient intent")
		return c, true
	}
	m.deps.Cache.PutContract(queryHash, contentHash, c)
	return c, false
}

// persistEvidence writes the GDPR-safe EvidenceRecord trail: text hashes
// only, PII classes masked unless the request opted in (spec §3, §6).
func (m *Manager) persistEvidence(ctx context.Context, j *models.Job, idx *anchor.Index, findings *models.DeterministicFindings, aug *models.AugmentationResult) {
	allowed := make(map[string]bool, len(j.Input.Options.AllowedPII))
	for _, p := range j.Input.Options.AllowedPII {
		allowed[p] = true
	}

	var records []models.EvidenceRecord
	seen := make(map[string]bool)
	addRecord := func(anchorID, field string) {
		if seen[anchorID] || anchorID == "" {
			return
		}
		seen[anchorID] = true
		text, _ := idx.TextOf(anchorID)
		sum := sha256Hex(text)
		records = append(records, models.EvidenceRecord{
			AnchorID:      anchorID,
			TextSHA256:    sum,
			RedactionMask: redactionFor(field, allowed),
		})
	}
	for _, h := range findings.Hits {
		addRecord(h.AnchorID, h.Field)
	}
	for _, c := range aug.Completions {
		for _, id := range c.AnchorIDs {
			addRecord(id, c.Field)
		}
	}

	if m.deps.Evidence != nil && len(records) > 0 {
		if err := m.deps.Evidence.PutEvidence(ctx, j.ID, records); err != nil {
			j.Log("finalizing", "warn", "evidence persist failed: "+err.Error())
		}
	}
}

// persistArtifact stores a redacted JSON snapshot of the extracted rows as
// an artifact referenced from Job.ArtifactRefs (spec §4.10 "persist
// logs/artifacts"). PII-classed fields are masked unconditionally in the
// stored snapshot regardless of AllowedPII, since the artifact store
// outlives the request that may have opted into seeing raw PII.
func (m *Manager) persistArtifact(ctx context.Context, j *models.Job, result models.ExtractionResult) {
	if m.deps.Artifacts == nil {
		return
	}
	raw, err := json.Marshal(result.Data)
	if err != nil {
		j.Log("finalizing", "warn", "artifact marshal failed: "+err.Error())
		return
	}

	redacted := raw
	rows := gjson.GetBytes(raw, "#").Int()
	for i := int64(0); i < rows; i++ {
		row := gjson.GetBytes(redacted, fmt.Sprintf("%d", i))
		row.ForEach(func(key, _ gjson.Result) bool {
			field := key.String()
			mask := redactionFor(field, nil)
			if mask != models.RedactionNone {
				path := fmt.Sprintf("%d.%s", i, field)
				if patched, setErr := sjson.SetBytes(redacted, path, "[redacted:"+string(mask)+"]"); setErr == nil {
					redacted = patched
				}
			}
			return true
		})
	}

	id := j.ID + "-result"
	if err := m.deps.Artifacts.PutArtifact(ctx, id, "extraction_result", redacted); err != nil {
		j.Log("finalizing", "warn", "artifact persist failed: "+err.Error())
		return
	}
	j.ArtifactRefs = append(j.ArtifactRefs, id)
}

func redactionFor(field string, allowed map[string]bool) models.RedactionMask {
	switch field {
	case "email":
		if allowed["email"] {
			return models.RedactionNone
		}
		return models.RedactionEmail
	case "phone":
		if allowed["phone"] {
			return models.RedactionNone
		}
		return models.RedactionPhone
	case "address":
		if allowed["address"] {
			return models.RedactionNone
		}
		return models.RedactionAddress
	default:
		return models.RedactionNone
	}
}

func (m *Manager) failureResponse(j *models.Job, perr *models.PipelineError) Response {
	j.Transition(models.StatusFailure)
	m.saveQuiet(context.Background(), j)
	m.emit(telemetry.JobCompleted, j.CorrelationID, map[string]any{"status": "failure", "code": string(perr.Code)})
	return Response{
		Status: "failure",
		Metadata: Metadata{
			CorrelationID: j.CorrelationID,
			ContentHash:   j.ContentHash,
			Cost:          j.Cost,
			Timings:       j.Timings,
			Error: &ErrorDetail{
				Code:    perr.Code,
				Message: perr.Message,
				Detail:  perr.Detail,
			},
		},
	}
}

// resultResponse renders result into the ingress-facing shape. result
// already carries the negotiated output_schema (built once in
// runPipeline), so a cache-hit replay and the originating run produce the
// same contract_id/output_schema/data triple without recomputation
// (spec §4.11, §8 scenario S6).
func (m *Manager) resultResponse(j *models.Job, result models.ExtractionResult, cacheHit bool) Response {
	return Response{
		ContractID:   result.ContractID,
		Mode:         j.Mode,
		OutputSchema: result.OutputSchema,
		Data:         result.Data,
		Status:       "success",
		Metadata: Metadata{
			CorrelationID:   j.CorrelationID,
			ContentHash:     j.ContentHash,
			Cost:            result.Cost,
			Timings:         result.Timings,
			PromotedFields:  promotedFieldsOf(result),
			RowsDropped:     result.DroppedEntityCount,
			FieldsOmitted:   result.FieldsOmitted,
			EvidenceSummary: result.EvidenceSummary,
			CacheHit:        cacheHit,
			Partial:         j.Partial,
		},
	}
}

// promotedFieldsOf reports every discoverable field the negotiator added,
// per spec §6 metadata.promoted_fields.
func promotedFieldsOf(result models.ExtractionResult) []PromotedField {
	if len(result.PromotedFieldNames) == 0 {
		return nil
	}
	out := make([]PromotedField, 0, len(result.PromotedFieldNames))
	for _, name := range result.PromotedFieldNames {
		out = append(out, PromotedField{
			Name:     name,
			Entities: result.EvidenceSummary.FieldCoverage[name],
			Promoted: true,
		})
	}
	return out
}

// buildJSONSchema renders the negotiated final schema into spec §6's
// strict JSON Schema document: additionalProperties:false,
// unevaluatedProperties false, minItems >= 1 for the array root (spec §3
// SchemaContract invariant). demoted lists required fields the Extraction
// Executor demoted to non-required under soft-mode support-rate rules
// (spec §4.8); they must not appear in the output required array even
// though their FieldSpec.Kind is still KindRequired.
func buildJSONSchema(schema []models.FieldSpec, demoted []string) map[string]any {
	demotedSet := make(map[string]bool, len(demoted))
	for _, name := range demoted {
		demotedSet[name] = true
	}

	properties := make(map[string]any, len(schema))
	var required []string
	for _, f := range schema {
		properties[f.Name] = map[string]any{"type": jsonSchemaType(f.Type)}
		if f.Kind == models.KindRequired && !demotedSet[f.Name] {
			required = append(required, f.Name)
		}
	}
	item := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
		"unevaluatedProperties": false,
	}
	if len(required) > 0 {
		item["required"] = required
	}
	return map[string]any{
		"type":     "array",
		"items":    item,
		"minItems": 1,
	}
}

func jsonSchemaType(t models.FieldType) string {
	switch t {
	case models.TypeNumber:
		return "number"
	case models.TypeBoolean:
		return "boolean"
	case models.TypeArrayOfString:
		return "array"
	default:
		return "string"
	}
}

func (m *Manager) emit(eventType telemetry.EventType, correlationID string, data map[string]any) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Emit(eventType, correlationID, data)
}

func (m *Manager) saveQuiet(ctx context.Context, j *models.Job) {
	if m.deps.Stores == nil {
		return
	}
	_ = m.deps.Stores.SaveJob(ctx, j)
}

// Cancel cancels a job in any non-terminal state (spec §5); a job that has
// already reached a terminal state is left as it is. It terminates the
// active stage at its next yield point via the context cancel func the
// pipeline threads through every blocking call.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	j, err := m.deps.Stores.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	j.Cancel()
	j.Transition(models.StatusCancelled)
	return m.deps.Stores.SaveJob(ctx, j)
}

func sampleText(idx *anchor.Index, maxChars int) string {
	samples := idx.BuildSamples(40)
	out := ""
	for _, s := range samples {
		if len(out)+len(s.Text) > maxChars {
			break
		}
		out += s.Text + "\n"
	}
	return out
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashSeed derives a deterministic uint32 seed from a string so contract
// generation is reproducible for equal (url, query) pairs without the
// Contract Generator itself touching wall-clock time or randomness
// (spec §4.4 determinism requirement).
func hashSeed(s string) uint32 {
	sum := sha256.Sum256([]byte(s))
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(sum[i])
	}
	return v
}
