package acquiring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/keypool"
	"lectern/internal/logging"
	"lectern/internal/services"
	"lectern/internal/services/model"
)

// flatDeckPDF builds a minimal PDF with a single-level page tree.
func flatDeckPDF(pageCount int) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	refs := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		refs = append(refs, fmt.Sprintf("%d 0 R", i+3))
	}
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(refs, " "), pageCount)
	for i := 0; i < pageCount; i++ {
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n", i+3)
	}
	return []byte(b.String())
}

func TestCountPDFPages(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj << /Type /Pages /Kids [2 0 R 3 0 R] >>\n" +
		"2 0 obj << /Type /Page /Parent 1 0 R >>\n" +
		"3 0 obj << /Type /Page /Parent 1 0 R >>\n")
	if got := countPDFPages(pdf); got != 2 {
		t.Fatalf("countPDFPages = %d, want 2 (/Pages must not count)", got)
	}
	if got := countPDFPages([]byte("not a pdf at all")); got != 0 {
		t.Fatalf("countPDFPages on garbage = %d, want 0", got)
	}
}

func TestTruncatePDFPages(t *testing.T) {
	pdf := flatDeckPDF(3)
	out, err := truncatePDFPages(pdf, 2)
	if err != nil {
		t.Fatalf("truncatePDFPages: %v", err)
	}
	if len(out) != len(pdf) {
		t.Fatalf("len = %d, want %d (offsets must not move)", len(out), len(pdf))
	}

	kids := pdfKidsPattern.FindSubmatch(out)
	if kids == nil {
		t.Fatal("truncated deck has no kids array")
	}
	refs := pdfRefPattern.FindAll(kids[1], -1)
	if len(refs) != 2 || string(refs[0]) != "3 0 R" || string(refs[1]) != "4 0 R" {
		t.Fatalf("kids refs = %q, want first two pages", refs)
	}
	count := pdfCountPattern.FindSubmatch(out)
	if count == nil || string(count[1]) != "2" {
		t.Fatalf("count = %q, want 2", count)
	}

	if _, err := truncatePDFPages(pdf, 3); err == nil {
		t.Fatal("truncating at the page count should report nothing to drop")
	}
}

func TestTruncatePDFPagesRejectsNestedTree(t *testing.T) {
	nested := []byte("%PDF-1.4\n2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 3 >>\nendobj\n" +
		"3 0 obj\n<< /Type /Pages /Kids [4 0 R 5 0 R] /Count 2 >>\nendobj\n")
	if _, err := truncatePDFPages(nested, 1); err == nil {
		t.Fatal("nested page tree must be reported as non-truncatable")
	}
}

func TestExtractTruncatesOversizedDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pdf")
	if err := os.WriteFile(path, flatDeckPDF(3), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sent []byte
	gen := model.NewGenerator(model.Config{Model: "gemini-test"}).
		WithGenerateFunc(func(_ context.Context, _, _ string, parts []model.Part) (string, error) {
			for _, part := range parts {
				if part.Data != nil {
					sent = part.Data
				}
			}
			return "[page 1] intro\n[page 2] detail", nil
		})
	rot := model.NewRotator(gen, keypool.NewManager("", time.Minute, logging.NewNop()), "fallback-key")

	e := NewExtractor(config.Slides{MaxPages: 2}, rot, nil)
	deck, err := e.Extract(context.Background(), "alice", path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !deck.Truncated || deck.Pages != 2 {
		t.Fatalf("deck = %+v, want truncated to 2 pages", deck)
	}

	if sent == nil {
		t.Fatal("model never received the deck")
	}
	kids := pdfKidsPattern.FindSubmatch(sent)
	if kids == nil {
		t.Fatal("model input has no kids array")
	}
	if refs := pdfRefPattern.FindAll(kids[1], -1); len(refs) != 2 {
		t.Fatalf("model received %d page refs, want 2", len(refs))
	}
}

func TestExtractRejectsUntruncatableDeck(t *testing.T) {
	nested := []byte("%PDF-1.4\n2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 3 >>\nendobj\n" +
		"3 0 obj\n<< /Type /Pages /Kids [4 0 R 5 0 R] /Count 2 >>\nendobj\n" +
		"4 0 obj\n<< /Type /Page >>\nendobj\n" +
		"5 0 obj\n<< /Type /Page >>\nendobj\n" +
		"6 0 obj\n<< /Type /Page >>\nendobj\n")
	path := filepath.Join(t.TempDir(), "deck.pdf")
	if err := os.WriteFile(path, nested, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	gen := model.NewGenerator(model.Config{Model: "gemini-test"}).
		WithGenerateFunc(func(context.Context, string, string, []model.Part) (string, error) {
			t.Fatal("model must not be called for an untruncatable deck")
			return "", nil
		})
	rot := model.NewRotator(gen, keypool.NewManager("", time.Minute, logging.NewNop()), "fallback-key")

	e := NewExtractor(config.Slides{MaxPages: 2}, rot, nil)
	if _, err := e.Extract(context.Background(), "alice", path); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSlidePrompt(t *testing.T) {
	if got := slidePrompt(0); strings.Contains(got, "Stop after") {
		t.Fatalf("unbounded prompt should not carry a page cap: %q", got)
	}
	if got := slidePrompt(40); !strings.Contains(got, "Stop after page 40.") {
		t.Fatalf("bounded prompt missing page cap: %q", got)
	}
}

func TestMimeForPath(t *testing.T) {
	if got := mimeForPath("deck.pdf"); got != "application/pdf" {
		t.Fatalf("pdf mime = %q", got)
	}
	if got := mimeForPath("deck.unknownext"); got != "application/pdf" {
		t.Fatalf("fallback mime = %q", got)
	}
}

func TestLoadSourceLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deck.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := NewExtractor(config.Slides{}, nil, nil)
	data, mimeType, err := e.loadSource(context.Background(), path)
	if err != nil {
		t.Fatalf("loadSource: %v", err)
	}
	if string(data) != "%PDF-1.4 content" {
		t.Fatalf("data = %q", data)
	}
	if mimeType != "application/pdf" {
		t.Fatalf("mime = %q", mimeType)
	}
}

func TestLoadSourceMissingFile(t *testing.T) {
	e := NewExtractor(config.Slides{}, nil, nil)
	_, _, err := e.loadSource(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDownloadSlideSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		w.Write([]byte("%PDF-1.4 remote"))
	}))
	defer srv.Close()

	e := NewExtractor(config.Slides{}, nil, nil).WithHTTPClient(srv.Client())
	data, mimeType, err := e.loadSource(context.Background(), srv.URL+"/deck.pdf")
	if err != nil {
		t.Fatalf("loadSource: %v", err)
	}
	if string(data) != "%PDF-1.4 remote" {
		t.Fatalf("data = %q", data)
	}
	if mimeType != "application/pdf" {
		t.Fatalf("mime = %q, want parameters stripped", mimeType)
	}
}

func TestDownloadStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		marker error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusForbidden, services.ErrTransient},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		e := NewExtractor(config.Slides{}, nil, nil).WithHTTPClient(srv.Client())
		_, _, err := e.loadSource(context.Background(), srv.URL)
		srv.Close()
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.marker)
		}
	}
}
