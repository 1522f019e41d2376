package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/kickctl/internal/reconcile"
	"github.com/spf13/cobra"
)

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	plan := reconcile.Plan{Kind: reconcile.PlanCancel, Cancels: []string{"kick1", "kick2"}}
	if err := printPlan(cmd, plan); err != nil {
		t.Fatalf("print plan: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"kind": "cancel"`) || !strings.Contains(out, `"kick2"`) {
		t.Fatalf("unexpected plan output: %s", out)
	}
	if strings.Contains(out, "reason") {
		t.Fatalf("cancel plan should not carry a reason: %s", out)
	}
}

func TestConfigInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kickctl.yaml")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "init", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !strings.Contains(string(data), "bp_account: bpaccount111") {
		t.Fatalf("unexpected template: %s", data)
	}
}
