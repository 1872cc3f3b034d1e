// Package classify implements the failure classifier: a pure function from
// a failed run's error message and structured metadata to a failure
// category, retryability, and reason. The retry policy consumes the
// category to decide whether the task re-queues, fails, or blocks.
package classify

import (
	"regexp"
	"strings"

	"github.com/Andyyyy64/opentiger/pkg/domain/run"
)

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Category buckets a failed run. The set is closed.
type Category string

const (
	CategorySetup        Category = "setup"
	CategoryModel        Category = "model"
	CategoryFlaky        Category = "flaky"
	CategoryPermission   Category = "permission"
	CategoryPolicy       Category = "policy"
	CategoryTimeout      Category = "timeout"
	CategoryVerification Category = "verification"
	CategoryUnknown      Category = "unknown"
)

func (c Category) String() string { return string(c) }

// defaultRetryable is each category's retryability when the code mapping
// does not override it.
var defaultRetryable = map[Category]bool{
	CategorySetup:        false,
	CategoryModel:        true,
	CategoryFlaky:        true,
	CategoryPermission:   false,
	CategoryPolicy:       false,
	CategoryTimeout:      true,
	CategoryVerification: true,
	CategoryUnknown:      true,
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// Classification is the classifier verdict.
type Classification struct {
	Category  Category `json:"category"`
	Retryable bool     `json:"retryable"`
	Reason    string   `json:"reason"`
}

// codeGenericExecution is the generic failure code that carries no signal of
// its own; classification falls through to the message heuristics.
const codeGenericExecution = "execution_failed"

// codeTable is the closed lookup from known failure codes to their static
// mapping. Codes not listed classify through the message heuristics.
var codeTable = map[string]Classification{
	"verification_command_unsupported_format":  {CategorySetup, false, "verification_command_unsupported_format"},
	"verification_command_missing_make_target": {CategorySetup, false, "verification_command_missing_make_target"},
	"verification_command_no_test_files":       {CategorySetup, false, "verification_command_no_test_files"},
	"verification_command_missing_script":      {CategorySetup, false, "verification_command_missing_script"},
	"verification_command_failed":              {CategoryVerification, true, "verification_command_failed"},
	"setup_or_bootstrap_issue":                 {CategorySetup, true, "setup_or_bootstrap_issue"},
	"branch_diverged_requires_recreate":        {CategorySetup, false, "branch_diverged_requires_recreate"},
	"policy_violation":                         {CategoryPolicy, false, "policy_violation"},
	"external_directory_permission_prompt":     {CategoryPermission, false, "external_directory_permission_prompt"},
}

// messageRule is one free-text heuristic. Rules apply in order; the first
// match wins.
type messageRule struct {
	pattern *regexp.Regexp
	verdict Classification
}

var messageRules = []messageRule{
	{
		pattern: regexp.MustCompile(`branch_diverged_requires_recreate`),
		verdict: Classification{CategorySetup, false, "branch_diverged_requires_recreate"},
	},
	{
		pattern: regexp.MustCompile(`ERR_PNPM_NO_SCRIPT|Missing script`),
		verdict: Classification{CategorySetup, false, "verification_command_missing_script"},
	},
	{
		pattern: regexp.MustCompile(`No test files found`),
		verdict: Classification{CategorySetup, false, "verification_command_no_test_files"},
	},
	{
		pattern: regexp.MustCompile(`Permission required|external_directory`),
		verdict: Classification{CategoryPermission, false, "external_directory_permission_prompt"},
	},
	{
		pattern: regexp.MustCompile(`policy violation|disallowed path`),
		verdict: Classification{CategoryPolicy, false, "policy_violation"},
	},
	{
		pattern: regexp.MustCompile(`context deadline exceeded|timed out|timeout`),
		verdict: Classification{CategoryTimeout, true, "execution_timeout"},
	},
	{
		pattern: regexp.MustCompile(`rate.?limit|overloaded|529|503`),
		verdict: Classification{CategoryModel, true, "model_backpressure"},
	},
}

// Classify maps a failed run's message and metadata to a verdict.
//
// Precedence: a known failureCode in meta wins with its static mapping,
// except the generic execution_failed code, which falls through to the
// message heuristics. Anything unrecognized is unknown/retryable.
func Classify(message string, meta *run.ErrorMeta) Classification {
	if code := ExtractFailureCode(meta); code != "" && code != codeGenericExecution {
		if v, ok := codeTable[code]; ok {
			return v
		}
	}
	for _, rule := range messageRules {
		if rule.pattern.MatchString(message) {
			return rule.verdict
		}
	}
	return Classification{CategoryUnknown, defaultRetryable[CategoryUnknown], "unclassified"}
}

// ---------------------------------------------------------------------------
// Extraction helpers
// ---------------------------------------------------------------------------

// ExtractFailureCode returns meta's failure code, or empty.
func ExtractFailureCode(meta *run.ErrorMeta) string {
	if meta == nil {
		return ""
	}
	return strings.TrimSpace(meta.FailureCode)
}

// ExtractFailedCommand returns meta's failed command, or empty.
func ExtractFailedCommand(meta *run.ErrorMeta) string {
	if meta == nil {
		return ""
	}
	return strings.TrimSpace(meta.FailedCommand)
}

// ExtractPolicyViolations returns meta's policy violations with blank
// entries stripped.
func ExtractPolicyViolations(meta *run.ErrorMeta) []string {
	if meta == nil {
		return nil
	}
	var out []string
	for _, v := range meta.PolicyViolations {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
