package scan

import "encoding/json"

// PageType is the classifier's label for a page. Values the classifier may
// add later are preserved as-is.
type PageType string

const (
	PageTypeLogin     PageType = "login"
	PageTypeDashboard PageType = "dashboard"
	PageTypeForm      PageType = "form"
	PageTypeListing   PageType = "listing"
	PageTypeDetail    PageType = "detail"
	PageTypeCheckout  PageType = "checkout"
	PageTypeSearch    PageType = "search"
	PageTypeSettings  PageType = "settings"
	PageTypeError     PageType = "error"
	PageTypeStatic    PageType = "static"
	PageTypeUnknown   PageType = "unknown"
)

var knownPageTypes = map[PageType]struct{}{
	PageTypeLogin: {}, PageTypeDashboard: {}, PageTypeForm: {}, PageTypeListing: {},
	PageTypeDetail: {}, PageTypeCheckout: {}, PageTypeSearch: {}, PageTypeSettings: {},
	PageTypeError: {}, PageTypeStatic: {}, PageTypeUnknown: {},
}

// Known reports whether t is one of the documented page types.
func (t PageType) Known() bool {
	_, ok := knownPageTypes[t]
	return ok
}

func (t PageType) String() string { return string(t) }

// Classification is one classified page, delivered as the payload of a
// result event on the classifier stream.
type Classification struct {
	URL        string   `json:"url"`
	PageType   PageType `json:"pageType"`
	Confidence float64  `json:"confidence,omitempty"`
	Signals    []string `json:"signals,omitempty"`
	Overridden bool     `json:"overridden,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type classificationAlias Classification

// UnmarshalJSON decodes the known fields and keeps the verbatim payload.
func (c *Classification) UnmarshalJSON(b []byte) error {
	var a classificationAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = Classification(a)
	c.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// OverrideRequest is the body of PATCH /api/classifier/override.
type OverrideRequest struct {
	URL      string   `json:"url" validate:"required"`
	PageType PageType `json:"pageType" validate:"required"`
}

// BatchRequest is the body of POST /api/classifier/batch.
type BatchRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,required"`
}

// ApplyOverride rewrites a classification payload when lookup has an
// override for its URL, setting pageType and marking it overridden. Other
// fields are kept. It reports whether raw was rewritten.
func ApplyOverride(raw json.RawMessage, lookup func(pageURL string) (PageType, bool)) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw, false
	}
	var pageURL string
	if err := json.Unmarshal(fields["url"], &pageURL); err != nil || pageURL == "" {
		return raw, false
	}
	t, ok := lookup(pageURL)
	if !ok {
		return raw, false
	}

	pt, err := json.Marshal(t)
	if err != nil {
		return raw, false
	}
	fields["pageType"] = pt
	fields["overridden"] = json.RawMessage("true")
	out, err := json.Marshal(fields)
	if err != nil {
		return raw, false
	}
	return out, true
}
