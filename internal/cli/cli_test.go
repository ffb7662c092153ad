package cli

import (
	"bytes"
	"strings"
	"testing"

	"auxite-wallet/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != version.String() {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEstimateCommand(t *testing.T) {
	out, err := execute(t, "estimate", "--symbol", "xau", "--side", "buy", "--qty", "2.5", "--price", "75.145")
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if !strings.Contains(out, "187.863") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEstimateRejectsBadSide(t *testing.T) {
	if _, err := execute(t, "estimate", "--side", "hold", "--qty", "1"); err == nil {
		t.Fatal("expected invalid side error")
	}
}

func TestPruneRejectsBadDuration(t *testing.T) {
	if _, err := execute(t, "prune", "--older-than", "soon"); err == nil {
		t.Fatal("expected duration parse error")
	}
}
