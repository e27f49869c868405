package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := fmt.Errorf("read feed: %w", Wrap(CodeInvalidCollaboratorResponse, cause, "decode latestRoundData"))

	if got := CodeOf(err); got != CodeInvalidCollaboratorResponse {
		t.Fatalf("unexpected code %s", got)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
	if !stdErrors.Is(err, New(CodeInvalidCollaboratorResponse, "")) {
		t.Fatal("expected errors.Is to match on code")
	}
	if got := MessageOf(err); got != "decode latestRoundData: dial tcp: refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDescribeIncludesSortedMetadata(t *testing.T) {
	err := New(CodeStaleReading, "stale price",
		WithMetadata("updatedAt", "10"),
		WithMetadata("feed", "ETH/USD"),
	)
	if got := err.Describe(); got != "stale price | feed=ETH/USD updatedAt=10" {
		t.Fatalf("unexpected describe output %q", got)
	}
	if !err.ShouldAlert() {
		t.Fatal("stale readings should alert by default")
	}
}

func TestAttributesFallback(t *testing.T) {
	attr := AttributesOf(Code("NOT_REGISTERED"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("expected unknown fallback severity, got %s", attr.Severity)
	}
	if New(CodeMissingConfiguration, "").Message() != "missing configuration" {
		t.Fatal("expected default message from registry")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
}
