// Package pdfextract fetches announcement attachments and pulls text out of
// them for AI analysis.
package pdfextract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

type Fetcher struct {
	client  *http.Client
	tempDir string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	tempDir := filepath.Join(os.TempDir(), "bsewatch-pdf")
	os.MkdirAll(tempDir, 0o755)

	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		tempDir: tempDir,
	}
}

// Fetch downloads the attachment bytes. The exchange serves attachments only
// to browser-looking clients.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.Header.Set("Referer", "https://www.bseindia.com/")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Text extracts the text content of a PDF, best effort. pdfcpu works on
// files, so the bytes are staged through a temp file; extraction failures on
// individual pages are tolerated.
func (f *Fetcher) Text(pdfBytes []byte) (string, error) {
	tempFile := filepath.Join(f.tempDir, fmt.Sprintf("ann_%d.pdf", time.Now().UnixNano()))
	if err := os.WriteFile(tempFile, pdfBytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := tempFile + "_pages"
	os.MkdirAll(outDir, 0o755)
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	var builder strings.Builder
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.Write(content)
	}

	if builder.Len() == 0 {
		return "", fmt.Errorf("no text extracted from %d pages", pageCount)
	}
	return builder.String(), nil
}
