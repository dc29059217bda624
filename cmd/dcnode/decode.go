package main

import (
	"github.com/goccy/go-json"

	"distcoord/coordinator"
)

// payloadFactories maps every Kind that actually crosses the wire to a
// constructor for its zero-value payload struct, so decodeEnvelope can
// unmarshal raw.Payload into the concrete type the handler expects
// instead of leaving it as a generic map[string]interface{}. Kinds
// with no payload (pure acks) or that are only ever posted locally
// (DIGETNODESREQ's reply channel, CONTINUEB_* timers) are absent; their
// handlers never see a remote envelope.
var payloadFactories = map[coordinator.Kind]func() interface{}{
	coordinator.KindStartPermReq:  func() interface{} { return new(coordinator.StartPermReqMsg) },
	coordinator.KindInclNodeReq:   func() interface{} { return new(coordinator.InclNodeReqMsg) },
	coordinator.KindReadNodesConf: func() interface{} { return new(coordinator.ReadNodesConfMsg) },
	coordinator.KindNodeFailRep:   func() interface{} { return new(coordinator.NodeFailRepMsg) },
	coordinator.KindLcpFragOrd:    func() interface{} { return new(coordinator.LcpFragOrdMsg) },
	coordinator.KindLcpFragRep:    func() interface{} { return new(coordinator.LcpFragRepMsg) },
	coordinator.KindLcpCompleteRep: func() interface{} { return new(coordinator.LcpCompleteRepMsg) },
	coordinator.KindStartToReq:    func() interface{} { return new(coordinator.StartToReqMsg) },
	coordinator.KindStartToConf:   func() interface{} { return new(coordinator.StartToConfMsg) },
	coordinator.KindCreateFragReq: func() interface{} { return new(coordinator.CreateFragReqMsg) },
	coordinator.KindCreateFragConf: func() interface{} { return new(coordinator.CreateFragConfMsg) },
	coordinator.KindCopyFragReq:   func() interface{} { return new(coordinator.CopyFragReqMsg) },
	coordinator.KindCopyFragConf:  func() interface{} { return new(coordinator.CopyFragConfMsg) },
	coordinator.KindEndToReq:      func() interface{} { return new(coordinator.EndToReqMsg) },
	coordinator.KindEndToConf:     func() interface{} { return new(coordinator.EndToConfMsg) },
}

// decodeEnvelope turns one wire envelope into the signal the local
// queue expects: nil payload for a bare ack, a decoded struct for a
// known kind, or the raw bytes left as a fallback so an unrecognized
// kind (a future protocol extension) does not crash the dispatch loop.
func decodeEnvelope(e envelope) (coordinator.Kind, uint32, interface{}) {
	factory, ok := payloadFactories[e.Kind]
	if !ok {
		if len(e.Payload) == 0 {
			return e.Kind, e.From, nil
		}
		return e.Kind, e.From, e.Payload
	}
	payload := factory()
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return e.Kind, e.From, nil
	}
	return e.Kind, e.From, derefPayload(payload)
}

// derefPayload unwraps the pointer payloadFactories hands back so the
// handler's type switch sees the value type it asserts against
// (s.Payload.(StartPermReqMsg), not s.Payload.(*StartPermReqMsg)).
func derefPayload(p interface{}) interface{} {
	switch v := p.(type) {
	case *coordinator.StartPermReqMsg:
		return *v
	case *coordinator.InclNodeReqMsg:
		return *v
	case *coordinator.ReadNodesConfMsg:
		return *v
	case *coordinator.NodeFailRepMsg:
		return *v
	case *coordinator.LcpFragOrdMsg:
		return *v
	case *coordinator.LcpFragRepMsg:
		return *v
	case *coordinator.LcpCompleteRepMsg:
		return *v
	case *coordinator.StartToReqMsg:
		return *v
	case *coordinator.StartToConfMsg:
		return *v
	case *coordinator.CreateFragReqMsg:
		return *v
	case *coordinator.CreateFragConfMsg:
		return *v
	case *coordinator.CopyFragReqMsg:
		return *v
	case *coordinator.CopyFragConfMsg:
		return *v
	case *coordinator.EndToReqMsg:
		return *v
	case *coordinator.EndToConfMsg:
		return *v
	default:
		return p
	}
}
