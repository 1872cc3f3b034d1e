package classify

import (
	"testing"

	"github.com/Andyyyy64/opentiger/pkg/domain/run"
)

func TestNormalizeFailureSignature_CodePrefix(t *testing.T) {
	meta := &run.ErrorMeta{FailureCode: "verification_command_failed"}
	got := NormalizeFailureSignature("exit 1", meta)
	want := "code:verification_command_failed exit <n>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// The signature must be stable under substitution of distinct UUIDs,
// integers and absolute paths, and under whitespace reordering.
func TestNormalizeFailureSignature_Stability(t *testing.T) {
	variants := []string{
		"run 7c9e6679-7425-40de-944b-e07fc1f90ae7 failed in /tmp/work/repo-1: exit 2",
		"run 550e8400-e29b-41d4-a716-446655440000 failed in /var/lib/agents/repo-9: exit 137",
		"run  f47ac10b-58cc-4372-a567-0e02b2c3d479   failed in /home/ci/checkout: exit 1",
	}

	first := NormalizeFailureSignature(variants[0], nil)
	for i, v := range variants[1:] {
		if got := NormalizeFailureSignature(v, nil); got != first {
			t.Errorf("variant %d: got %q, want %q", i+1, got, first)
		}
	}
}

func TestNormalizeFailureSignature_Placeholders(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "uuid",
			message: "task 7c9e6679-7425-40de-944b-e07fc1f90ae7 lost",
			want:    "task <uuid> lost",
		},
		{
			name:    "commit hash",
			message: "commit a1b2c3d4e5f mismatch",
			want:    "commit <hash> mismatch",
		},
		{
			name:    "absolute path",
			message: "cannot open /usr/local/share/data.json",
			want:    "cannot open <path>",
		},
		{
			name:    "bare numbers",
			message: "expected 3 workers, found 17",
			want:    "expected <n> workers, found <n>",
		},
		{
			name:    "whitespace collapsed",
			message: "  too\t many   spaces ",
			want:    "too many spaces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFailureSignature(tt.message, nil); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
