package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// Decrypt opens a sealed-box ciphertext with the recipient's key pair.
func Decrypt(ciphertext []byte, keys *KeyPair) ([]byte, error) {
	if keys == nil {
		return nil, errors.New("nil key pair")
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &keys.Public, &keys.Private)
	if !ok {
		return nil, errors.New("decryption failed")
	}

	return plaintext, nil
}
