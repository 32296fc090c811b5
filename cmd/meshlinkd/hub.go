package main

import (
	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/logging"
)

// packetTypeAnnounce is the packet type carried in the low two bits of the
// first header byte of an announce.
const packetTypeAnnounce = 0x01

// hub is the owner of a shared instance. It relays every inbound frame to
// all other attached clients.
type hub struct {
	transport *core.Transport
	server    *localif.ServerInterface
}

func newHub(t *core.Transport) *hub {
	return &hub{transport: t}
}

// Inbound implements core.Owner.
func (h *hub) Inbound(frame []byte, src core.Interface) {
	announce := isAnnounce(frame)
	fromSpawned := false
	if c, ok := src.(*localif.ClientInterface); ok && h.server != nil {
		fromSpawned = c.Parent() == h.server
	}
	if announce && h.server != nil {
		h.server.ReceivedAnnounce(fromSpawned)
	}

	relayed := 0
	for _, dst := range h.transport.LocalClients.Snapshot() {
		if dst == src || !dst.Online() {
			continue
		}
		dst.Send(frame)
		relayed++
		if announce && h.server != nil {
			h.server.SentAnnounce(true)
		}
	}
	logging.Tracef("Relayed %d byte frame from %s to %d clients", len(frame), src, relayed)
}

func isAnnounce(frame []byte) bool {
	return len(frame) >= 2 && frame[0]&0x03 == packetTypeAnnounce
}
