// Package crypto implements the cryptographic primitives for the RUDP stack.
//
// This package handles node identifiers, NaCl key pairs, sealed-box message
// encryption, and the Noise-IK handshake used when connecting to a peer.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Node ID:", crypto.NodeIDFromPublicKey(keys.Public))
package crypto
