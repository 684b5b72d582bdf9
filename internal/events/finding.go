package events

import "strconv"

// FindingAsset points a finding at the inventory object it concerns.
type FindingAsset struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Banner string `json:"banner,omitempty"`
}

// Finding is a security observation tied to one or more assets.
type Finding struct {
	Title       string         `json:"title"`
	Severity    string         `json:"severity"`
	Description string         `json:"description,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Assets      []FindingAsset `json:"assets,omitempty"`
}

func (Finding) EventType() string { return "finding.v1" }

// FindingFromService wraps a discovered network service into a finding.
func FindingFromService(svc NetworkService, title, severity, description string) Finding {
	asset := FindingAsset{
		Kind:   svc.EventType(),
		ID:     svc.IP + ":" + strconv.Itoa(svc.Port) + "/" + svc.Protocol,
		Banner: svc.Banner,
	}
	return Finding{Title: title, Severity: severity, Description: description, Assets: []FindingAsset{asset}}
}

