package main

import (
	"errors"
	"strings"
	"testing"

	cl "guildbank/internal/cli"
	"guildbank/internal/config"
	"guildbank/internal/syncq"

	"github.com/spf13/cobra"
)

func TestParseIDs(t *testing.T) {
	got, err := parseIDs([]string{"12", " 7 "})
	if err != nil || len(got) != 2 || got[0] != 12 || got[1] != 7 {
		t.Fatalf("parseIDs = %v, %v", got, err)
	}
	for _, bad := range []string{"0", "-3", "abc", ""} {
		if _, err := parseID(bad); err == nil {
			t.Fatalf("parseID(%q) expected error", bad)
		}
	}
}

func TestPatchFromFlagsOnlySetsChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "edit"}
	cmd.Flags().String("name", "", "")
	cmd.Flags().Int64("cap", 0, "")
	cmd.Flags().String("reward", "", "")
	cmd.Flags().Int64("level", 0, "")
	cmd.Flags().Int64("current", 0, "")
	cmd.Flags().Int64("start", 0, "")

	if _, err := patchFromFlags(cmd); err == nil {
		t.Fatalf("expected error for empty patch")
	}

	if err := cmd.Flags().Parse([]string{"--current", "0", "--name", "Docks"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	p, err := patchFromFlags(cmd)
	if err != nil {
		t.Fatalf("patchFromFlags: %v", err)
	}
	if p.Name == nil || *p.Name != "Docks" {
		t.Fatalf("name = %v", p.Name)
	}
	if p.Current == nil || *p.Current != 0 {
		t.Fatalf("explicit zero current should be kept, got %v", p.Current)
	}
	if p.Cap != nil || p.Level != nil || p.Start != nil || p.Reward != nil {
		t.Fatalf("unchanged flags leaked into patch: %+v", p)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		current, capacity int64
		want              string
	}{
		{0, 100, "[----------]"},
		{50, 100, "[#####-----]"},
		{100, 100, "[##########]"},
		{150, 100, "[##########]"},
		{5, 0, "[----------]"},
	}
	for _, tc := range tests {
		if got := progressBar(tc.current, tc.capacity, 10); got != tc.want {
			t.Fatalf("progressBar(%d, %d) = %q, want %q", tc.current, tc.capacity, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Coin Pouch", 20); got != "Coin Pouch" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("Extremely Long Item Name", 10); got != "Extreme..." {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestQueuePending(t *testing.T) {
	dir := t.TempDir()
	a := &app{cfg: config.CLIConfig{QueueDir: dir}}

	plain := errors.New("boom")
	if got := a.queuePending(plain); got != plain {
		t.Fatalf("non-pending errors pass through, got %v", got)
	}

	pending := &cl.PendingError{
		Request: cl.Request{Method: "POST", Path: "/v1/items/Shield/use", IdempotencyKey: "k-1"},
		Err:     errors.New("connection refused"),
	}
	err := a.queuePending(pending)
	if err == nil || !strings.Contains(err.Error(), "gbk retry") || !errors.Is(err, pending) {
		t.Fatalf("queuePending = %v", err)
	}

	q, err := syncq.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	queued, err := q.Load()
	if err != nil || len(queued) != 1 {
		t.Fatalf("queue = %v, %v", queued, err)
	}
	if queued[0].IdempotencyKey != "k-1" || queued[0].LastError != "connection refused" {
		t.Fatalf("queued command = %+v", queued[0])
	}
}
