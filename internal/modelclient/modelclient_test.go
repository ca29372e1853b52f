package modelclient

import "testing"

func TestFingerprint_IsStableForIdenticalInputs(t *testing.T) {
	a := Fingerprint("googleai/gemini-2.5-flash", "extract the title")
	b := Fingerprint("googleai/gemini-2.5-flash", "extract the title")
	if a != b {
		t.Fatalf("expected identical fingerprints, got %q and %q", a, b)
	}
}

func TestFingerprint_DiffersOnPromptChange(t *testing.T) {
	a := Fingerprint("googleai/gemini-2.5-flash", "extract the title")
	b := Fingerprint("googleai/gemini-2.5-flash", "extract the price")
	if a == b {
		t.Fatalf("expected different fingerprints for different prompts, got %q for both", a)
	}
}

func TestDefaultBudgets_MatchSpecIndicativeValues(t *testing.T) {
	if defaultBudgets[StageContract].MaxOutputTokens != 500 {
		t.Errorf("expected contract stage budget of 500 output tokens, got %d", defaultBudgets[StageContract].MaxOutputTokens)
	}
	if defaultBudgets[StageAugmentation].MaxOutputTokens != 400 {
		t.Errorf("expected augmentation stage budget of 400 output tokens, got %d", defaultBudgets[StageAugmentation].MaxOutputTokens)
	}
	if defaultBudgets[StageValidation].MaxOutputTokens != 100 {
		t.Errorf("expected validation stage budget of 100 output tokens, got %d", defaultBudgets[StageValidation].MaxOutputTokens)
	}
}
