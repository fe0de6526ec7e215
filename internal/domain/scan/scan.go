// Package scan holds the payload types exchanged with the scan backend.
//
// The backend owns every shape here. Fields are treated as optional: a
// missing field never fails decoding, and sections the backend omitted are
// represented as nil rather than zero values so callers can tell an absent
// pillar from an empty one. Types that are persisted keep the verbatim
// payload they were decoded from.
package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Credentials authenticate the scanner against the target application.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// IsZero reports whether no credentials were provided.
func (c Credentials) IsZero() bool { return c.Username == "" && c.Password == "" }

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// NewScanRequest builds a request for target with optional credentials.
func NewScanRequest(target string, creds Credentials) ScanRequest {
	return ScanRequest{URL: target, Username: creds.Username, Password: creds.Password}
}

// ErrInvalidTarget is returned for URLs that cannot be scanned.
var ErrInvalidTarget = errors.New("invalid target url")

// NormalizeTarget trims the target and defaults the scheme to https.
// Only absolute http(s) URLs with a host are accepted.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return u.String(), nil
}

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists the known severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Issue is a single defect found on a page.
type Issue struct {
	Type     string   `json:"type,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Message  string   `json:"message,omitempty"`
	Selector string   `json:"selector,omitempty"`
}

// Page is one scanned page.
type Page struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	PageType   PageType `json:"pageType,omitempty"`
	StatusCode int      `json:"statusCode,omitempty"`
	Issues     []Issue  `json:"issues,omitempty"`
}

// IssuesSummary aggregates issue counts for a scan.
type IssuesSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Millis is a duration reported in milliseconds. The backend has been seen
// sending both numbers and strings; both decode, unparseable strings decode
// to zero.
type Millis float64

// UnmarshalJSON accepts a JSON number, a numeric string or a Go duration
// string.
func (m *Millis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*m = Millis(f)
			return nil
		}
		if d, err := time.ParseDuration(s); err == nil {
			*m = Millis(d.Milliseconds())
			return nil
		}
		*m = 0
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Millis(f)
	return nil
}

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(float64(m) * float64(time.Millisecond))
}

// ScanResult is the payload returned by POST /api/scan. Raw holds the bytes it
// was decoded from; marshaling a decoded result reproduces them exactly.
type ScanResult struct {
	ID                string         `json:"id,omitempty"`
	Success           bool           `json:"success"`
	Error             string         `json:"error,omitempty"`
	TargetURL         string         `json:"targetUrl,omitempty"`
	TotalPagesScanned int            `json:"totalPagesScanned,omitempty"`
	Duration          Millis         `json:"duration,omitempty"`
	IssuesSummary     *IssuesSummary `json:"issuesSummary,omitempty"`
	Pages             []Page         `json:"pages,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type scanResultAlias ScanResult

// UnmarshalJSON decodes the known fields and keeps the verbatim payload.
func (r *ScanResult) UnmarshalJSON(b []byte) error {
	var a scanResultAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = ScanResult(a)
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON returns the verbatim payload when there is one.
func (r ScanResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(scanResultAlias(r))
}

// Summary returns the issues summary and whether the backend sent one.
func (r *ScanResult) Summary() (IssuesSummary, bool) {
	if r == nil || r.IssuesSummary == nil {
		return IssuesSummary{}, false
	}
	return *r.IssuesSummary, true
}

// IssueCount returns the total number of issues, preferring the summary and
// falling back to counting page issues.
func (r *ScanResult) IssueCount() int {
	if s, ok := r.Summary(); ok {
		return s.Total
	}
	n := 0
	for _, p := range r.Pages {
		n += len(p.Issues)
	}
	return n
}

// Page returns the page with the given URL.
func (r *ScanResult) Page(pageURL string) (Page, bool) {
	for _, p := range r.Pages {
		if p.URL == pageURL {
			return p, true
		}
	}
	return Page{}, false
}
