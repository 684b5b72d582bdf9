package events

// NetworkService is one open service on a host, as reported by port
// scanners (masscan, nmap).
type NetworkService struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Banner   string `json:"banner,omitempty"`
}

func (NetworkService) EventType() string { return "network.service" }
