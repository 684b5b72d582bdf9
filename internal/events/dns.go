package events

import "strings"

// DNSDomain is one discovered DNS name with its place in the tree.
type DNSDomain struct {
	Name   string `json:"name"`
	Root   string `json:"root"`
	Kind   string `json:"kind"` // apex | subdomain | wildcard
	Parent string `json:"parent,omitempty"`
}

func (DNSDomain) EventType() string { return "dns.domain" }

// NewDNSDomain normalizes name and infers root, kind and parent. The root
// is approximated as the last two labels; public-suffix awareness belongs
// to the ingestor.
func NewDNSDomain(name string) DNSDomain {
	n := strings.ToLower(strings.TrimLeft(strings.TrimSpace(name), "."))

	if host, ok := strings.CutPrefix(n, "*."); ok {
		root := lastLabels(host, 2)
		return DNSDomain{Name: n, Root: root, Kind: "wildcard", Parent: root}
	}

	if strings.Count(n, ".") <= 1 {
		return DNSDomain{Name: n, Root: n, Kind: "apex"}
	}

	root := lastLabels(n, 2)
	return DNSDomain{Name: n, Root: root, Kind: "subdomain", Parent: root}
}

func lastLabels(host string, n int) string {
	labels := strings.Split(host, ".")
	if len(labels) <= n {
		return host
	}
	return strings.Join(labels[len(labels)-n:], ".")
}
