package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/batch"
)

func TestRenderProgress(t *testing.T) {
	t.Parallel()

	ch := make(chan batch.Progress, 2)
	ch <- batch.Progress{Kind: batch.KindIndex, Item: "a.md", Success: true, Completed: 1, Total: 2}
	ch <- batch.Progress{Kind: batch.KindIndex, Item: "b.md", Error: "empty content", Completed: 2, Total: 2}
	close(ch)

	var out bytes.Buffer
	renderProgress(&out, ch)

	want := "[1/2] index a.md ok\n[2/2] index b.md FAILED: empty content\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestSourceFlags_Empty(t *testing.T) {
	t.Parallel()
	if !(&sourceFlags{}).empty() {
		t.Error("zero flags should be empty")
	}
	if (&sourceFlags{urls: []string{"https://example.com"}}).empty() {
		t.Error("url flag should not be empty")
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("DOCQA_TEST_VALUE", "")
	if got := getEnvOrDefault("DOCQA_TEST_VALUE", "fallback"); got != "fallback" {
		t.Errorf("empty var: got %q", got)
	}
	t.Setenv("DOCQA_TEST_VALUE", "set")
	if got := getEnvOrDefault("DOCQA_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("set var: got %q", got)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	got := strings.Join(names, ",")
	for _, want := range []string{"ask", "chat", "serve", "version"} {
		if !strings.Contains(got, want) {
			t.Errorf("subcommand %q missing from %s", want, got)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	cmd := NewVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)
	if !strings.HasPrefix(out.String(), "docqa dev") {
		t.Errorf("unexpected version output: %q", out.String())
	}
}
