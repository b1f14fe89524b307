package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

// Session holds the cipher states of a completed Noise-IK handshake.
type Session struct {
	SendCipher *noise.CipherState
	RecvCipher *noise.CipherState
	PeerKey    [32]byte
}

// Handshake manages a Noise-IK handshake between two peers. The initiator
// must know the responder's static public key in advance; the responder
// learns the initiator's key from the first message.
type Handshake struct {
	state     *noise.HandshakeState
	initiator bool
	completed bool
}

// NewInitiatorHandshake creates the initiator side of a Noise-IK handshake.
func NewInitiatorHandshake(staticKeys *KeyPair, peerKey [32]byte) (*Handshake, error) {
	return newHandshake(staticKeys, peerKey[:], true)
}

// NewResponderHandshake creates the responder side of a Noise-IK handshake.
func NewResponderHandshake(staticKeys *KeyPair) (*Handshake, error) {
	return newHandshake(staticKeys, nil, false)
}

func newHandshake(staticKeys *KeyPair, peerKey []byte, initiator bool) (*Handshake, error) {
	if staticKeys == nil {
		return nil, errors.New("nil static key pair")
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cs,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: staticKeys.Private[:],
			Public:  staticKeys.Public[:],
		},
		PeerStatic: peerKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{state: hs, initiator: initiator}, nil
}

// WriteMessage produces the next handshake message carrying payload. The
// returned session is non-nil once the handshake completes (message two).
func (h *Handshake) WriteMessage(payload []byte) ([]byte, *Session, error) {
	if h.completed {
		return nil, nil, errors.New("handshake already completed")
	}

	message, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		h.completed = true
		return message, h.newSession(cs1, cs2), nil
	}
	return message, nil, nil
}

// ReadMessage consumes the peer's next handshake message and returns its
// payload. The returned session is non-nil once the handshake completes.
func (h *Handshake) ReadMessage(message []byte) ([]byte, *Session, error) {
	if h.completed {
		return nil, nil, errors.New("handshake already completed")
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		h.completed = true
		return payload, h.newSession(cs1, cs2), nil
	}
	return payload, nil, nil
}

// PeerKey returns the peer's static public key. For the responder it is
// only known after the first message has been read.
func (h *Handshake) PeerKey() ([32]byte, error) {
	var key [32]byte
	peer := h.state.PeerStatic()
	if len(peer) != 32 {
		return key, errors.New("peer static key not yet known")
	}
	copy(key[:], peer)
	return key, nil
}

func (h *Handshake) newSession(cs1, cs2 *noise.CipherState) *Session {
	s := &Session{}
	// cs1 carries initiator-to-responder traffic, cs2 the reverse.
	if h.initiator {
		s.SendCipher, s.RecvCipher = cs1, cs2
	} else {
		s.SendCipher, s.RecvCipher = cs2, cs1
	}
	if peer, err := h.PeerKey(); err == nil {
		s.PeerKey = peer
	}
	return s
}
