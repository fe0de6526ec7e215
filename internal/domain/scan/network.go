package scan

import "encoding/json"

// MonitorRequest is the body of POST /api/network/monitor.
type MonitorRequest struct {
	URL string `json:"url" validate:"required"`
}

// NetworkRequest is one request observed while loading the target.
type NetworkRequest struct {
	URL          string  `json:"url"`
	Method       string  `json:"method,omitempty"`
	Status       int     `json:"status,omitempty"`
	ResourceType string  `json:"resourceType,omitempty"`
	Duration     Millis  `json:"duration,omitempty"`
	Size         int64   `json:"size,omitempty"`
	Failed       bool    `json:"failed,omitempty"`
	ThirdParty   bool    `json:"thirdParty,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// EndpointCluster groups requests sharing a normalized endpoint pattern.
type EndpointCluster struct {
	Pattern string   `json:"pattern"`
	Count   int      `json:"count"`
	Methods []string `json:"methods,omitempty"`
}

// NetworkSummary aggregates the monitored traffic.
type NetworkSummary struct {
	TotalRequests int    `json:"totalRequests"`
	Failed        int    `json:"failed"`
	Slow          int    `json:"slow"`
	ThirdParty    int    `json:"thirdParty"`
	TotalBytes    int64  `json:"totalBytes,omitempty"`
	AvgDuration   Millis `json:"avgDuration,omitempty"`
}

// NetworkReport is the terminal result of the network monitor stream.
type NetworkReport struct {
	URL      string            `json:"url,omitempty"`
	Requests []NetworkRequest  `json:"requests,omitempty"`
	Clusters []EndpointCluster `json:"clusters,omitempty"`
	Summary  *NetworkSummary   `json:"summary,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type networkReportAlias NetworkReport

// UnmarshalJSON decodes the known fields and keeps the verbatim payload.
func (n *NetworkReport) UnmarshalJSON(b []byte) error {
	var a networkReportAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*n = NetworkReport(a)
	n.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// FailedRequests returns the requests marked failed or answered with a
// status of 400 and above.
func (n *NetworkReport) FailedRequests() []NetworkRequest {
	var out []NetworkRequest
	for _, r := range n.Requests {
		if r.Failed || r.Status >= 400 {
			out = append(out, r)
		}
	}
	return out
}
