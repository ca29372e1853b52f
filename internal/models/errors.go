package models

// ErrorCode enumerates the taxonomy of pipeline failures. Every error carries
// a correlation id and the stage that produced it.
type ErrorCode string

const (
	ErrContractAbstain    ErrorCode = "E_CONTRACT_ABSTAIN"
	ErrValidationFail     ErrorCode = "E_VALIDATION_FAIL"
	ErrAnchorMiss         ErrorCode = "E_ANCHOR_MISS"
	ErrBudgetExceeded     ErrorCode = "E_BUDGET_EXCEEDED"
	ErrTimeoutStage       ErrorCode = "E_TIMEOUT_STAGE"
	ErrPromotionDenied    ErrorCode = "E_PROMOTION_DENIED"
	ErrStrictModeDrop     ErrorCode = "E_STRICT_MODE_DROP"
	ErrFallbackUsed       ErrorCode = "E_FALLBACK_USED"
	ErrAllStrategiesFail  ErrorCode = "E_ALL_STRATEGIES_FAILED"
	ErrCacheMiss          ErrorCode = "E_CACHE_MISS"
)

// retryable records which codes represent a condition that Strategy &
// Fallback (C9) may retry with backoff versus one that must not be retried.
// Modeled on other_examples' contract.go Error{Code,Summary,Retryable} shape.
var retryable = map[ErrorCode]bool{
	ErrFallbackUsed:      true,
	ErrTimeoutStage:      true,
	ErrAllStrategiesFail: false,
	ErrStrictModeDrop:    false,
	ErrContractAbstain:   false,
	ErrValidationFail:    false,
	ErrAnchorMiss:        false,
	ErrBudgetExceeded:    false,
	ErrPromotionDenied:   false,
	ErrCacheMiss:         false,
}

// Retryable reports whether a fresh attempt of the same operation might
// succeed. Unknown codes are treated as non-retryable.
func (c ErrorCode) Retryable() bool {
	return retryable[c]
}

// PipelineError is the typed error surfaced to callers and recorded in
// telemetry. Detail is free-form (selectors tried, counts, reasons) and is
// never raw PII.
type PipelineError struct {
	Code          ErrorCode      `json:"code"`
	Stage         string         `json:"stage"`
	CorrelationID string         `json:"correlation_id"`
	Message       string         `json:"message"`
	Detail        map[string]any `json:"detail,omitempty"`
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + " at " + e.Stage + ": " + e.Message
}

// NewPipelineError constructs a PipelineError with an optional detail map
// (nil when there is no detail).
func NewPipelineError(code ErrorCode, stage, correlationID, message string, detail map[string]any) *PipelineError {
	return &PipelineError{
		Code:          code,
		Stage:         stage,
		CorrelationID: correlationID,
		Message:       message,
		Detail:        detail,
	}
}
