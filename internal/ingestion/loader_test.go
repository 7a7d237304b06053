package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFiles creates files under dir from a relative path → content map.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

const articlePage = `<html><head><title>t</title><script>var x = 1;</script></head>
<body><nav>Home | About</nav>
<article><h1>Rotating keys</h1><p>Keys should be rotated every ninety days. Rotation is done with the
rotate command, which creates a new key version and schedules the old one for deletion.</p></article>
<footer>Copyright</footer></body></html>`

func TestLoader_FetchHTML(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "docqa-go") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	}))
	t.Cleanup(srv.Close)

	doc, err := NewLoader(Config{}).Fetch(context.Background(), srv.URL+"/guides/keys")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(doc.Content, "rotated every ninety days") {
		t.Errorf("article text missing: %q", doc.Content)
	}
	for _, noise := range []string{"var x", "Home | About", "Copyright"} {
		if strings.Contains(doc.Content, noise) {
			t.Errorf("content should not contain %q: %q", noise, doc.Content)
		}
	}
	if doc.Metadata["format"] != "html" || doc.Metadata["origin"] != "url" || doc.Metadata["doc_type"] != "guide" {
		t.Errorf("unexpected metadata: %v", doc.Metadata)
	}
}

func TestLoader_FetchPlainMarkdownKeepsFormat(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("# Title\n\nBody."))
	}))
	t.Cleanup(srv.Close)

	doc, err := NewLoader(Config{}).Fetch(context.Background(), srv.URL+"/README.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "# Title\n\nBody." || doc.Metadata["format"] != "markdown" {
		t.Errorf("got %q / %v", doc.Content, doc.Metadata)
	}
}

func TestLoader_FetchStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewLoader(Config{}).Fetch(context.Background(), srv.URL+"/missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("want 404 error, got %v", err)
	}
}

func TestLoader_ReadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"guide.md": "## Setup\n\nRun make."})

	doc, err := NewLoader(Config{}).ReadFile(filepath.Join(dir, "guide.md"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != filepath.Join(dir, "guide.md") || doc.Content != "## Setup\n\nRun make." {
		t.Errorf("unexpected doc: %+v", doc)
	}

	if _, err := NewLoader(Config{}).ReadFile(filepath.Join(dir, "nope.md")); err == nil {
		t.Error("want error for missing file")
	}
}

func TestLoader_ReadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.txt":            "bravo",
		"a.md":             "alpha",
		"nested/c.TXT":     "charlie",
		"image.png":        "binary",
		".hidden.txt":      "secret",
		".git/config.txt":  "internal",
		"nested/page.html": "<html><body><p>delta</p></body></html>",
	})

	docs, err := NewLoader(Config{}).ReadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var got []string
	for _, d := range docs {
		rel, _ := filepath.Rel(dir, d.Source)
		got = append(got, filepath.ToSlash(rel)+"="+d.Content)
	}
	want := []string{"a.md=alpha", "b.txt=bravo", "nested/c.TXT=charlie", "nested/page.html=delta"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ReadDir() = %v, want %v", got, want)
	}
}

func TestLoader_ReadDirExtensionsAndMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.md": "alpha", "b.txt": "bravo"})

	docs, err := NewLoader(Config{Extensions: []string{".MD"}}).ReadDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Content != "alpha" {
		t.Errorf("extension filter not applied: %+v", docs)
	}

	_, err = NewLoader(Config{}).ReadDir(context.Background(), filepath.Join(dir, "missing"))
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("want ErrDirectoryNotFound, got %v", err)
	}
	_, err = NewLoader(Config{}).ReadDir(context.Background(), filepath.Join(dir, "a.md"))
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("file path: want ErrDirectoryNotFound, got %v", err)
	}
}

func TestFormatFromContentType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"text/html; charset=utf-8": FormatHTML,
		"application/pdf":          FormatPDF,
		"text/markdown":            FormatMarkdown,
		"text/plain":               FormatText,
		"application/octet-stream": "",
		"":                         "",
	}
	for ct, want := range tests {
		if got := formatFromContentType(ct); got != want {
			t.Errorf("formatFromContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}
