// Package executor provides web research tool implementations.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/praxis-ai/praxis/internal/errors"
)

const (
	fetchMaxBytes  = 512 * 1024
	fetchMaxOutput = 50 * 1024
)

// FetchURL fetches a web page and renders it as markdown so the model
// reads content, not markup. Transient network failures are retried
// under the network policy; HTTP 4xx are not.
type FetchURL struct {
	Client *http.Client
}

func (t *FetchURL) Name() string { return "fetch_url" }

func (t *FetchURL) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	target, err := stringParam(input, "url")
	if err != nil {
		return Fail(err)
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return Failf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Failf("unsupported URL scheme: %s", parsed.Scheme)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var (
		body        []byte
		contentType string
		status      int
	)
	fetchErr := errors.Do(ctx, errors.NetworkPolicy(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return errors.Wrap(err, errors.CodeNetworkUnavailable, "build request", errors.CategoryPermanent)
		}
		req.Header.Set("User-Agent", "Praxis/1.0")

		resp, err := client.Do(req)
		if err != nil {
			return errors.Wrap(err, errors.CodeNetworkUnavailable, "fetch URL", errors.CategoryTemporary)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		contentType = resp.Header.Get("Content-Type")
		if resp.StatusCode >= 500 {
			return errors.Temporary(errors.CodeNetworkUnavailable,
				fmt.Sprintf("HTTP %d from %s", resp.StatusCode, parsed.Host))
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Permanent(errors.CodeNetworkUnavailable,
				fmt.Sprintf("HTTP %d from %s", resp.StatusCode, parsed.Host))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
		if err != nil {
			return errors.Wrap(err, errors.CodeNetworkUnavailable, "read response", errors.CategoryTemporary)
		}
		return nil
	})
	if fetchErr != nil {
		return Fail(fetchErr)
	}

	output := string(body)
	if strings.Contains(contentType, "text/html") {
		if rendered, err := htmlToMarkdown(output); err == nil {
			output = rendered
		}
	}
	if len(output) > fetchMaxOutput {
		output = output[:fetchMaxOutput] + "\n... (truncated)"
	}

	return Success(output).
		WithDetail("url", target).
		WithDetail("status", status).
		WithDetail("content_type", contentType)
}

func htmlToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	converter := md.NewConverter("", true, nil)
	rendered := converter.Convert(doc.Selection)
	if strings.TrimSpace(rendered) == "" {
		return "", fmt.Errorf("no content extracted")
	}
	return rendered, nil
}
