package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveKey derives an AES key of the given size from a KEM shared secret.
//
// The derivation uses:
//   - IKM: the KEM shared secret
//   - Salt: SHA-256 of the KEM ciphertext
//   - Info: KEMContext || len(aad) (4 bytes BE) || aad
func deriveKey(sharedSecret, ctKem, aad []byte, size int) ([]byte, error) {
	salt := sha256.Sum256(ctKem)

	info := make([]byte, 0, len(KEMContext)+4+len(aad))
	info = append(info, KEMContext...)
	info = binary.BigEndian.AppendUint32(info, uint32(len(aad)))
	info = append(info, aad...)

	reader := hkdf.New(sha512.New, sharedSecret, salt[:], info)
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
