package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// API paths relative to the base.
const (
	PathScan               = "scan"
	PathNetworkMonitor     = "network/monitor"
	PathClassifierBatch    = "classifier/batch"
	PathClassifierOverride = "classifier/override"
	PathClassifierResults  = "classifier/results"
	PathHygieneScore       = "hygiene/score"
	PathSeverityMatrix     = "severity/matrix"
)

// Scan runs a full scan of req.URL and returns the verbatim result.
func (c *Client) Scan(ctx context.Context, req scan.ScanRequest) (*scan.ScanResult, error) {
	var res scan.ScanResult
	if _, err := c.call(ctx, "scan", http.MethodPost, PathScan, nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// MonitorNetwork streams network monitoring of target and returns the last
// result the backend sent.
func (c *Client) MonitorNetwork(ctx context.Context, target string, h EventHandler) (*scan.NetworkReport, error) {
	out, err := c.Stream(ctx, http.MethodPost, PathNetworkMonitor, scan.MonitorRequest{URL: target}, h)
	if err != nil {
		return nil, err
	}

	last, ok := out.Last()
	if !ok {
		return nil, errors.New("network monitor stream ended without a result")
	}
	var report scan.NetworkReport
	if err := json.Unmarshal(last, &report); err != nil {
		return nil, &TransportError{Op: http.MethodPost, URL: c.endpoint(PathNetworkMonitor, nil), Err: err}
	}
	return &report, nil
}

// ClassifyBatch streams classification of urls. The backend sends one
// progress event per URL and one result per classified page. Results that do
// not decode as a classification are skipped.
func (c *Client) ClassifyBatch(ctx context.Context, urls []string, h EventHandler) ([]scan.Classification, error) {
	out, err := c.Stream(ctx, http.MethodPost, PathClassifierBatch, scan.BatchRequest{URLs: urls}, h)
	if err != nil {
		return nil, err
	}

	classes := make([]scan.Classification, 0, len(out.Results))
	for _, raw := range out.Results {
		var cl scan.Classification
		if err := json.Unmarshal(raw, &cl); err != nil || cl.URL == "" {
			c.log.Warn(ctx, "skipping undecodable classification", "error", err)
			continue
		}
		classes = append(classes, cl)
	}
	return classes, nil
}

// OverridePageType tells the backend to treat pageURL as pageType.
func (c *Client) OverridePageType(ctx context.Context, pageURL string, pageType scan.PageType) error {
	_, err := c.call(ctx, "override", http.MethodPatch, PathClassifierOverride, nil,
		scan.OverrideRequest{URL: pageURL, PageType: pageType}, nil)
	return err
}

// DeleteClassification removes the stored classification of pageURL.
func (c *Client) DeleteClassification(ctx context.Context, pageURL string) error {
	_, err := c.call(ctx, "delete_classification", http.MethodDelete, ClassificationPath(pageURL), nil, nil, nil)
	return err
}

// ClassificationPath is the path of the stored classification of pageURL.
// The URL is escaped into a single path segment.
func ClassificationPath(pageURL string) string {
	return PathClassifierResults + "/" + url.PathEscape(pageURL)
}

// HygieneScore fetches the hygiene score of target.
func (c *Client) HygieneScore(ctx context.Context, target string) (*scan.HygieneScore, error) {
	var hs scan.HygieneScore
	if _, err := c.call(ctx, "hygiene_score", http.MethodGet, PathHygieneScore, url.Values{"url": {target}}, nil, &hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

// SeverityMatrix fetches the severity matrix of target.
func (c *Client) SeverityMatrix(ctx context.Context, target string) (*scan.SeverityMatrix, error) {
	var sm scan.SeverityMatrix
	if _, err := c.call(ctx, "severity_matrix", http.MethodGet, PathSeverityMatrix, url.Values{"url": {target}}, nil, &sm); err != nil {
		return nil, err
	}
	return &sm, nil
}
