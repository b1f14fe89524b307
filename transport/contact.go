package transport

import (
	"fmt"

	"github.com/paul1989889/rudp/crypto"
)

// Contact identifies a peer: its node ID, its endpoints, and its public
// key. Contacts are stored by value.
type Contact struct {
	ID           crypto.NodeID
	EndpointPair EndpointPair
	PublicKey    [32]byte
}

func (c Contact) String() string {
	if !c.ID.IsValid() {
		return "<invalid contact>"
	}
	return fmt.Sprintf("%s@%s", c.ID.ShortString(), c.EndpointPair.Local)
}
