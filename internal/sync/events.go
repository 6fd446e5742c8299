package sync

import (
	"novelhub/pkg/models"
)

// Welcome is the first line every subscriber receives.
type Welcome struct {
	Type      string `json:"type"` // always "welcome"
	Transport string `json:"transport"`
	Clients   int    `json:"clients"`
}

func welcome(transport string, clients int) Welcome {
	return Welcome{Type: "welcome", Transport: transport, Clients: clients}
}

// Observe broadcasts a fetch run event to every subscriber.
func (h *Hub) Observe(ev models.FetchEvent) {
	h.BroadcastJSON(ev)
}
