package mesh

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PionConfig 미디어 세션 설정
type PionConfig struct {
	ICEServers []string `env:"ICE_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
}

// PionSession pion PeerConnection 기반 오디오 세션
//
// remote description이 설정되기 전에 도착한 candidate는 버퍼링했다가
// description 적용 직후 추가한다.
type PionSession struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

// NewPionFactory returns a SessionFactory that opens audio-only peer connections.
func NewPionFactory(cfg PionConfig) SessionFactory {
	return func(remoteID string, hooks SessionHooks) (Session, error) {
		return NewPionSession(cfg, hooks)
	}
}

func NewPionSession(cfg PionConfig, hooks SessionHooks) (*PionSession, error) {
	rtcCfg := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || hooks.OnCandidate == nil {
			return
		}
		hooks.OnCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if hooks.OnConnected != nil {
				hooks.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if hooks.OnFailed != nil {
				hooks.OnFailed()
			}
		}
	})

	return &PionSession{pc: pc}, nil
}

func (s *PionSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (s *PionSession) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.flushPending(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (s *PionSession) HandleAnswer(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	return s.flushPending()
}

func (s *PionSession) AddCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(c)
}

func (s *PionSession) Close() error {
	return s.pc.Close()
}

func (s *PionSession) flushPending() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate: %w", err)
		}
	}
	return nil
}
