package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrMediaUnavailable means the local media stack could not be set up;
// callers abort the join when they see it.
var ErrMediaUnavailable = errors.New("media engine unavailable")

const dataChannelLabel = "huddle"

func DefaultWebRTCConfig() webrtc.Configuration {
	return WebRTCConfig([]string{"stun:stun.l.google.com:19302"})
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// NewEngineFactory prepares a pion API once and hands out one peer
// connection per negotiation session.
func NewEngineFactory(cfg webrtc.Configuration) (negotiation.EngineFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return func(remote domain.ConnID) (negotiation.MediaEngine, error) {
		return NewWebRTCConnection(api, cfg, remote)
	}, nil
}

// WebRTCConnection is a data-channel-only peer connection driven by a
// negotiation session. Descriptions travel as pion SessionDescription JSON
// and candidates as ICECandidateInit JSON, the same shapes browsers use.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ConnID

	mu    sync.Mutex
	onICE func(json.RawMessage)
	dc    *webrtc.DataChannel
}

var _ negotiation.MediaEngine = (*WebRTCConnection)(nil)

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, remote domain.ConnID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	c := &WebRTCConnection{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Msg("marshal candidate")
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(b)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "webrtc").Str("remote", string(remote)).Str("label", dc.Label()).Msg("data channel opened by remote")
		c.bindDataChannel(dc)
	})

	return c, nil
}

func (c *WebRTCConnection) OnCandidate(fn func(json.RawMessage)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.bindDataChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) AcceptOffer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) AcceptAnswer(ctx context.Context, raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) AddCandidate(ctx context.Context, raw json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	return nil
}

// SignalingState exposes pion's view, mostly for tests.
func (c *WebRTCConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *WebRTCConnection) bindDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	dc.OnOpen(func() {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("label", dc.Label()).Msg("data channel open")
	})
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("decode session description: %w", err)
	}
	if sd.Type != want {
		return sd, fmt.Errorf("unexpected description type %s, want %s", sd.Type, want)
	}
	return sd, nil
}
