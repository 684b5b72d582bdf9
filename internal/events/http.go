package events

import (
	"net/url"
	"strconv"
	"strings"
)

// HTTPResponse is the subset of an HTTP probe result the inventory cares
// about, shaped after httpx JSON output.
type HTTPResponse struct {
	URL           string            `json:"url"`
	Host          string            `json:"host,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Port          int               `json:"port,omitempty"`
	Scheme        string            `json:"scheme,omitempty"`
	Method        string            `json:"method"`
	StatusCode    int               `json:"status_code,omitempty"`
	Title         string            `json:"title,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int               `json:"content_length,omitempty"`
	Webserver     string            `json:"webserver,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Target        string            `json:"target,omitempty"`
}

func (HTTPResponse) EventType() string { return "http.response" }

// FromHTTPXDoc maps one decoded httpx -json document to an HTTPResponse.
// httpx fields drift between releases, so mapping works off the raw
// document rather than a fixed struct.
func FromHTTPXDoc(doc map[string]any) HTTPResponse {
	str := func(key string) string {
		if v, ok := doc[key].(string); ok {
			return v
		}
		return ""
	}
	num := func(key string) int {
		switch v := doc[key].(type) {
		case float64:
			return int(v)
		case string:
			return atoiOrZero(v)
		}
		return 0
	}

	finalURL := str("final_url")
	if finalURL == "" {
		finalURL = str("url")
	}
	if finalURL == "" {
		finalURL = str("input")
	}

	scheme := str("scheme")
	if u, err := url.Parse(finalURL); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}
	if scheme == "" {
		scheme = "http"
	}

	method := strings.ToUpper(str("method"))
	if method == "" {
		method = "GET"
	}

	var headers map[string]string
	if raw, ok := doc["header"].(map[string]any); ok {
		headers = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return HTTPResponse{
		URL:           finalURL,
		Host:          str("host"),
		IP:            str("ip"),
		Port:          num("port"),
		Scheme:        scheme,
		Method:        method,
		StatusCode:    num("status_code"),
		Title:         str("title"),
		ContentType:   str("content_type"),
		ContentLength: num("content_length"),
		Webserver:     str("webserver"),
		Headers:       headers,
		Target:        str("input"),
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
