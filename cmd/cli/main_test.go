package main

import (
	"io"
	"testing"

	"github.com/hearthlabs/agentloop/pkg/agenterr"
)

func TestBuildModelProviderTransports(t *testing.T) {
	cases := []string{"", "decoder", "sdk", "raw-sse-proxy"}
	for _, transport := range cases {
		p, err := buildModelProvider(transport, "claude-3-5-sonnet-20241022", "be terse", "")
		if err != nil {
			t.Fatalf("transport %q: unexpected error: %v", transport, err)
		}
		if p == nil {
			t.Fatalf("transport %q: expected non-nil provider", transport)
		}
	}
}

func TestBuildModelProviderUnknownTransport(t *testing.T) {
	if _, err := buildModelProvider("bogus", "model", "", ""); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func TestRunUnknownTransportExitsInvalidInput(t *testing.T) {
	err := run([]string{"-transport", "bogus", "-prompt", "hi"}, io.Discard, io.Discard)
	if err == nil {
		t.Fatalf("expected error for unknown transport")
	}
	if code := agenterr.ExitCode(err); code != agenterr.ExitInvalidInput {
		t.Fatalf("expected exit code %d, got %d (%v)", agenterr.ExitInvalidInput, code, err)
	}
}

func TestRunBadFlagExitsInvalidInput(t *testing.T) {
	err := run([]string{"-no-such-flag"}, io.Discard, io.Discard)
	if err == nil {
		t.Fatalf("expected flag parse error")
	}
	if code := agenterr.ExitCode(err); code != agenterr.ExitInvalidInput {
		t.Fatalf("expected exit code %d, got %d (%v)", agenterr.ExitInvalidInput, code, err)
	}
}
