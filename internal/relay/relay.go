// Package relay forwards negotiation envelopes between connections. It
// never looks inside the sdp or candidate payloads.
package relay

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Relay struct {
	dir *core.Directory
}

func New(dir *core.Directory) *Relay {
	return &Relay{dir: dir}
}

// Relay addresses sig to its target with the sender stamped in. Envelopes
// from or to unknown connections are dropped without telling the sender.
func (r *Relay) Relay(from domain.ConnID, sig protocol.Signal) (protocol.Delivery, domain.Result) {
	sender, ok := r.dir.Get(from)
	if !ok {
		return protocol.Delivery{}, domain.Dropped(domain.ReasonUnknownConnection)
	}
	if sig.To == from {
		return protocol.Delivery{}, domain.Dropped(domain.ReasonProtocolViolation)
	}
	if !r.dir.Has(sig.To) {
		log.Debug().Str("module", "relay").Str("from", string(from)).Str("to", string(sig.To)).
			Str("type", string(sig.Kind)).Msg("target gone")
		return protocol.Delivery{}, domain.Dropped(domain.ReasonUnknownTarget)
	}

	out := protocol.RelayedSignal{
		Kind:      sig.Kind,
		From:      from,
		SDP:       sig.SDP,
		Candidate: sig.Candidate,
	}
	if sig.Kind != protocol.TypeICECandidate {
		out.UserName = sender.DisplayName
	}
	return protocol.Delivery{To: sig.To, Msg: out}, domain.Delivered
}
