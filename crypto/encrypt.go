package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// Encrypt seals a message to a recipient's public key using an anonymous
// sealed box. Only the holder of the matching private key can open it.
func Encrypt(plaintext []byte, recipientPK [32]byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}

	ciphertext, err := box.SealAnonymous(nil, plaintext, &recipientPK, rand.Reader)
	if err != nil {
		return nil, err
	}

	return ciphertext, nil
}
