package classify

import (
	"testing"

	"github.com/Andyyyy64/opentiger/pkg/domain/run"
)

func TestClassify_CodeTable(t *testing.T) {
	tests := []struct {
		name          string
		message       string
		meta          *run.ErrorMeta
		wantCategory  Category
		wantRetryable bool
		wantReason    string
	}{
		{
			name:          "known non-retryable setup code",
			message:       "anything at all",
			meta:          &run.ErrorMeta{FailureCode: "branch_diverged_requires_recreate"},
			wantCategory:  CategorySetup,
			wantRetryable: false,
			wantReason:    "branch_diverged_requires_recreate",
		},
		{
			name:          "setup code overrides category default retryability",
			message:       "",
			meta:          &run.ErrorMeta{FailureCode: "setup_or_bootstrap_issue"},
			wantCategory:  CategorySetup,
			wantRetryable: true,
			wantReason:    "setup_or_bootstrap_issue",
		},
		{
			name:          "verification failure is retryable",
			message:       "",
			meta:          &run.ErrorMeta{FailureCode: "verification_command_failed"},
			wantCategory:  CategoryVerification,
			wantRetryable: true,
			wantReason:    "verification_command_failed",
		},
		{
			name:          "policy violation is terminal",
			message:       "",
			meta:          &run.ErrorMeta{FailureCode: "policy_violation"},
			wantCategory:  CategoryPolicy,
			wantRetryable: false,
			wantReason:    "policy_violation",
		},
		{
			name:          "permission prompt is terminal",
			message:       "",
			meta:          &run.ErrorMeta{FailureCode: "external_directory_permission_prompt"},
			wantCategory:  CategoryPermission,
			wantRetryable: false,
			wantReason:    "external_directory_permission_prompt",
		},
		{
			name:          "generic execution_failed falls through to message heuristics",
			message:       "Permission required: external_directory",
			meta:          &run.ErrorMeta{FailureCode: "execution_failed"},
			wantCategory:  CategoryPermission,
			wantRetryable: false,
			wantReason:    "external_directory_permission_prompt",
		},
		{
			name:          "unknown code falls through to message heuristics",
			message:       "something inexplicable",
			meta:          &run.ErrorMeta{FailureCode: "made_up_code"},
			wantCategory:  CategoryUnknown,
			wantRetryable: true,
			wantReason:    "unclassified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.message, tt.meta)
			if got.Category != tt.wantCategory {
				t.Errorf("category = %s, want %s", got.Category, tt.wantCategory)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		wantCategory Category
		wantReason   string
	}{
		{
			name:         "branch diverged marker in message",
			message:      "git: branch_diverged_requires_recreate for feature/x",
			wantCategory: CategorySetup,
			wantReason:   "branch_diverged_requires_recreate",
		},
		{
			name:         "pnpm missing script",
			message:      "ERR_PNPM_NO_SCRIPT test:unit",
			wantCategory: CategorySetup,
			wantReason:   "verification_command_missing_script",
		},
		{
			name:         "npm missing script",
			message:      `npm error Missing script: "verify"`,
			wantCategory: CategorySetup,
			wantReason:   "verification_command_missing_script",
		},
		{
			name:         "no test files",
			message:      "vitest: No test files found, exiting with code 1",
			wantCategory: CategorySetup,
			wantReason:   "verification_command_no_test_files",
		},
		{
			name:         "permission prompt",
			message:      "Permission required to write outside the workspace",
			wantCategory: CategoryPermission,
			wantReason:   "external_directory_permission_prompt",
		},
		{
			name:         "external directory marker",
			message:      "blocked: external_directory access",
			wantCategory: CategoryPermission,
			wantReason:   "external_directory_permission_prompt",
		},
		{
			name:         "timeout",
			message:      "verify step: context deadline exceeded",
			wantCategory: CategoryTimeout,
			wantReason:   "execution_timeout",
		},
		{
			name:         "model backpressure",
			message:      "upstream overloaded, retry later",
			wantCategory: CategoryModel,
			wantReason:   "model_backpressure",
		},
		{
			name:         "unrecognized",
			message:      "segfault in the matrix",
			wantCategory: CategoryUnknown,
			wantReason:   "unclassified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.message, nil)
			if got.Category != tt.wantCategory {
				t.Errorf("category = %s, want %s", got.Category, tt.wantCategory)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

// Classification must be deterministic: same input, same verdict, always.
func TestClassify_Deterministic(t *testing.T) {
	msg := "verify failed at /tmp/work/repo-4821: exit 1"
	meta := &run.ErrorMeta{FailureCode: "verification_command_failed"}

	first := Classify(msg, meta)
	for i := 0; i < 50; i++ {
		if got := Classify(msg, meta); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestExtractPolicyViolations_StripsBlanks(t *testing.T) {
	meta := &run.ErrorMeta{PolicyViolations: []string{" wrote /etc/passwd ", "", "  ", "ran forbidden command"}}
	got := ExtractPolicyViolations(meta)
	want := []string{"wrote /etc/passwd", "ran forbidden command"}
	if len(got) != len(want) {
		t.Fatalf("got %d violations, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("violation[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ExtractPolicyViolations(nil) != nil {
		t.Error("nil meta should yield nil violations")
	}
}

func TestExtractHelpers_NilMeta(t *testing.T) {
	if ExtractFailureCode(nil) != "" {
		t.Error("nil meta should yield empty failure code")
	}
	if ExtractFailedCommand(nil) != "" {
		t.Error("nil meta should yield empty failed command")
	}
}
