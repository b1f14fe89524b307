package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// config is the YAML file layout for rudpnode.
type config struct {
	// Listen is the optional local endpoint hint, "ip:port".
	Listen string `yaml:"listen"`
	// SecretKey is the node's hex-encoded NaCl secret key. Generated when
	// empty.
	SecretKey string `yaml:"secret_key"`
	// Encrypt toggles sealed-box message encryption.
	Encrypt bool `yaml:"encrypt"`
	// MaxTransports overrides the transport budget when positive.
	MaxTransports int `yaml:"max_transports"`
	// Bootstrap lists the candidate contacts.
	Bootstrap []bootstrapEntry `yaml:"bootstrap"`
}

type bootstrapEntry struct {
	NodeID    string `yaml:"node_id"`
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &config{Encrypt: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) keyPair() (*crypto.KeyPair, error) {
	if c.SecretKey == "" {
		return crypto.GenerateKeyPair()
	}
	decoded, err := hex.DecodeString(c.SecretKey)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("secret_key must be 64 hex characters")
	}
	var secret [32]byte
	copy(secret[:], decoded)
	return crypto.FromSecretKey(secret)
}

func (c *config) bootstrapContacts() ([]transport.Contact, error) {
	contacts := make([]transport.Contact, 0, len(c.Bootstrap))
	for i, entry := range c.Bootstrap {
		id, err := crypto.NodeIDFromString(entry.NodeID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap[%d].node_id: %w", i, err)
		}
		endpoint, err := transport.ParseEndpoint(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("bootstrap[%d].address: %w", i, err)
		}
		decoded, err := hex.DecodeString(entry.PublicKey)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("bootstrap[%d].public_key must be 64 hex characters", i)
		}
		contact := transport.Contact{
			ID:           id,
			EndpointPair: transport.EndpointPair{Local: endpoint},
		}
		copy(contact.PublicKey[:], decoded)
		contacts = append(contacts, contact)
	}
	return contacts, nil
}
