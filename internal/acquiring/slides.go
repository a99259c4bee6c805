package acquiring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/services"
	"lectern/internal/services/model"
)

const slideStageName = "slide_extraction"

// maxSlideSourceBytes bounds how large a slide document we will hand to the
// vision model in one request.
const maxSlideSourceBytes = 50 << 20

var (
	pdfPagePattern  = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pdfKidsPattern  = regexp.MustCompile(`/Kids\s*\[([^\]]*)\]`)
	pdfRefPattern   = regexp.MustCompile(`\d+\s+\d+\s+R`)
	pdfCountPattern = regexp.MustCompile(`/Count\s+(\d+)`)
)

// Extractor turns a slide document (PDF or office export) into markdown text
// via a vision model call, bounded to the configured page ceiling.
type Extractor struct {
	cfg     config.Slides
	rotator *model.Rotator
	client  *http.Client
	logger  *slog.Logger
}

// NewExtractor constructs a slide extractor.
func NewExtractor(cfg config.Slides, rotator *model.Rotator, logger *slog.Logger) *Extractor {
	return &Extractor{
		cfg:     cfg,
		rotator: rotator,
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logging.NewComponentLogger(logger, slideStageName),
	}
}

// WithHTTPClient overrides the download client (used in tests).
func (e *Extractor) WithHTTPClient(client *http.Client) *Extractor {
	if client != nil {
		e.client = client
	}
	return e
}

// Extract loads the slide source and asks the model for a page-bounded
// markdown transcription of it.
func (e *Extractor) Extract(ctx context.Context, principal, source string) (SlideDeck, error) {
	data, mimeType, err := e.loadSource(ctx, source)
	if err != nil {
		return SlideDeck{}, err
	}

	pages := countPDFPages(data)
	truncated := e.cfg.MaxPages > 0 && pages > e.cfg.MaxPages
	reported := pages
	if truncated {
		bounded, err := truncatePDFPages(data, e.cfg.MaxPages)
		if err != nil {
			return SlideDeck{}, services.Wrap(services.ErrValidation, slideStageName, "truncate",
				fmt.Sprintf("slide deck has %d pages, exceeds ceiling %d", pages, e.cfg.MaxPages), err)
		}
		data = bounded
		reported = e.cfg.MaxPages
	}

	if e.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	prompt := slidePrompt(e.cfg.MaxPages)
	out, err := e.rotator.Generate(ctx, principal, model.TextPart(prompt), model.DataPart(data, mimeType))
	if err != nil {
		return SlideDeck{}, err
	}
	return SlideDeck{Markdown: strings.TrimSpace(out), Pages: reported, Truncated: truncated}, nil
}

func slidePrompt(maxPages int) string {
	prompt := "Transcribe this slide deck to markdown. For each slide emit a heading" +
		" of the form `[page N]` followed by the slide's text content, preserving" +
		" lists and tables. Do not describe imagery beyond a one-line caption."
	if maxPages > 0 {
		prompt += fmt.Sprintf(" Stop after page %d.", maxPages)
	}
	return prompt
}

func (e *Extractor) loadSource(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return e.download(ctx, source)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, slideStageName, "stat source",
			fmt.Sprintf("slide source %s not found", source), err)
	}
	if info.Size() > maxSlideSourceBytes {
		return nil, "", services.Wrap(services.ErrValidation, slideStageName, "check size",
			fmt.Sprintf("slide source %s exceeds %d bytes", source, maxSlideSourceBytes), nil)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, slideStageName, "read source", "read slide source", err)
	}
	return data, mimeForPath(source), nil
}

func (e *Extractor) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, slideStageName, "build request", "invalid slide URL", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, slideStageName, "download", "download slide source", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", services.Wrap(services.ErrNotFound, slideStageName, "download",
			fmt.Sprintf("slide source returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, "", services.Wrap(services.ErrTransient, slideStageName, "download",
			fmt.Sprintf("slide source returned %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSlideSourceBytes+1))
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, slideStageName, "download", "read slide body", err)
	}
	if len(data) > maxSlideSourceBytes {
		return nil, "", services.Wrap(services.ErrValidation, slideStageName, "download",
			fmt.Sprintf("slide source exceeds %d bytes", maxSlideSourceBytes), nil)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = mimeForPath(url)
	}
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return data, mimeType, nil
}

func mimeForPath(path string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/pdf"
}

// countPDFPages scans raw PDF bytes for page objects. It is a heuristic; a
// zero count only means the source was not a PDF we could inspect, never an
// error.
func countPDFPages(data []byte) int {
	return len(pdfPagePattern.FindAll(data, -1))
}

// truncatePDFPages rewrites a flat page tree so only the first maxPages pages
// stay reachable. The kids array and page count are overwritten in place with
// space padding, which keeps every byte offset in the cross-reference table
// valid. Decks with nested page trees (or pages inside compressed object
// streams) are reported as non-truncatable and the caller rejects them.
func truncatePDFPages(data []byte, maxPages int) ([]byte, error) {
	kids := pdfKidsPattern.FindAllSubmatchIndex(data, -1)
	if len(kids) != 1 {
		return nil, fmt.Errorf("page tree has %d kids arrays, need exactly one", len(kids))
	}
	loc := kids[0]
	inner := data[loc[2]:loc[3]]
	refs := pdfRefPattern.FindAll(inner, -1)
	if len(refs) <= maxPages {
		return nil, fmt.Errorf("kids array holds %d page refs, ceiling is %d", len(refs), maxPages)
	}

	kept := make([]string, 0, maxPages)
	for _, ref := range refs[:maxPages] {
		kept = append(kept, string(ref))
	}
	replacement := []byte(strings.Join(kept, " "))

	out := make([]byte, len(data))
	copy(out, data)
	copy(out[loc[2]:loc[3]], append(replacement, bytes.Repeat([]byte{' '}, len(inner)-len(replacement))...))

	// Rewrite /Count inside the same object so viewers that trust it over
	// the kids array agree on the page total.
	objStart := bytes.LastIndex(out[:loc[0]], []byte("obj"))
	if objStart < 0 {
		objStart = 0
	}
	objEnd := bytes.Index(out[loc[1]:], []byte("endobj"))
	if objEnd < 0 {
		objEnd = 0
	}
	region := out[objStart : loc[1]+objEnd]
	count := pdfCountPattern.FindSubmatchIndex(region)
	if count == nil {
		return nil, fmt.Errorf("page tree has no /Count")
	}
	value := []byte(strconv.Itoa(maxPages))
	if width := count[3] - count[2]; len(value) <= width {
		copy(region[count[2]:count[3]], append(value, bytes.Repeat([]byte{' '}, width-len(value))...))
	}
	return out, nil
}
