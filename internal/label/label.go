package label

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

// Artifact is a fetched shipping label document.
type Artifact struct {
	// Content holds the raw PDF bytes.
	Content []byte
	// SourceURL is the URL the document was fetched from.
	SourceURL string
}

var (
	// ErrNotPDF is returned when a candidate URL serves something that is
	// not a usable PDF document.
	ErrNotPDF = errors.New("label: response is not a pdf")
	// ErrNoLabel is returned when no candidate URL yields a label.
	ErrNoLabel = errors.New("label: no label available")
)

var pdfMagic = []byte("%PDF")

// Labels below this size are treated as error pages served with a 200.
const minPDFSize = 512

const maxPDFSize = 10 << 20

// Fetcher retrieves label PDFs for shipments registered with the carrier.
// The URL reported by the waybill response is tried first, then candidate
// URLs derived from the shipment barcode. When every download fails but a
// reported URL exists, that URL is returned as a reference without content.
type Fetcher struct {
	HTTP carrier.Doer
	// Templates are printf-style URL templates receiving the barcode, in
	// preference order.
	Templates []string
	Logger    zerolog.Logger
}

// Fetch returns the first valid PDF artifact among the candidate URLs, the
// reported URL first. reportedURL may be empty when the waybill response
// carried none.
func (f *Fetcher) Fetch(ctx context.Context, barcode, reportedURL string) (Artifact, error) {
	reported := strings.TrimSpace(reportedURL)
	var urls []string
	if reported != "" {
		urls = append(urls, reported)
	}
	for _, template := range f.Templates {
		if strings.Contains(template, "%s") {
			urls = append(urls, fmt.Sprintf(template, barcode))
		}
	}
	if len(urls) == 0 {
		return Artifact{}, ErrNoLabel
	}

	var lastErr error
	for _, candidate := range urls {
		artifact, err := f.fetchOne(ctx, candidate)
		if err == nil {
			return artifact, nil
		}
		if ctx.Err() != nil {
			return Artifact{}, ctx.Err()
		}
		f.Logger.Debug().Str("url", candidate).Err(err).Msg("label candidate rejected")
		lastErr = err
	}
	if reported != "" {
		// No download succeeded; the reported URL itself is still a usable
		// reference for the caller.
		return Artifact{SourceURL: reported}, nil
	}
	return Artifact{}, fmt.Errorf("%w: %w", ErrNoLabel, lastErr)
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) (Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("label: build request: %w", err)
	}
	resp, err := f.HTTP.Do(ctx, req)
	if err != nil {
		return Artifact{}, fmt.Errorf("label: fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Artifact{}, fmt.Errorf("label: fetch %s: status %d", url, resp.StatusCode)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return Artifact{}, fmt.Errorf("label: read body: %w", err)
	}
	if len(content) < minPDFSize || !bytes.HasPrefix(content, pdfMagic) {
		return Artifact{}, ErrNotPDF
	}
	return Artifact{Content: content, SourceURL: url}, nil
}
