package server

type EventPayload struct {
	Document  string `json:"document,omitempty"`
	Transport string `json:"transport,omitempty"`
	Remote    string `json:"remote,omitempty"`
	Clients   int    `json:"clients,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Round     int    `json:"round,omitempty"`
}
