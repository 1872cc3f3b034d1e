package classify

import (
	"regexp"
	"strings"

	"github.com/Andyyyy64/opentiger/pkg/domain/run"
)

// Canonicalization order matters: UUIDs and hashes are digit-bearing, so
// they must be replaced before the bare-number rule runs.
var (
	sigUUID       = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	sigHash       = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
	sigPath       = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
	sigNumber     = regexp.MustCompile(`\b\d+\b`)
	sigWhitespace = regexp.MustCompile(`\s+`)
)

// NormalizeFailureSignature produces a stable signature for a failure so the
// retry policy can dedup and rate-limit identical failures. When a failure
// code is present the signature is prefixed with "code:<failureCode> ". The
// message has its variable substrings — UUIDs, hashes, absolute paths, and
// numbers — replaced with canonical placeholders, and whitespace collapsed.
func NormalizeFailureSignature(message string, meta *run.ErrorMeta) string {
	msg := sigUUID.ReplaceAllString(message, "<uuid>")
	msg = sigHash.ReplaceAllString(msg, "<hash>")
	msg = sigPath.ReplaceAllString(msg, "<path>")
	msg = sigNumber.ReplaceAllString(msg, "<n>")
	msg = strings.TrimSpace(sigWhitespace.ReplaceAllString(msg, " "))

	if code := ExtractFailureCode(meta); code != "" {
		return "code:" + code + " " + msg
	}
	return msg
}
