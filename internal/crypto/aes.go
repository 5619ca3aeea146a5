package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// validAESKeySize reports whether n selects AES-128, AES-192 or AES-256.
func validAESKeySize(n int) bool {
	return n == 16 || n == 24 || n == 32
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if !validAESKeySize(len(key)) {
		return nil, fmt.Errorf("%w: aes key is %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// sealAESGCM encrypts plaintext with AES-GCM. The returned ciphertext carries
// the 16-byte tag but not the nonce.
func sealAESGCM(key, nonce, aad, plaintext []byte) ([]byte, error) {
	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrInvalidCiphertext, len(nonce), AESNonceSize)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// openAESGCM reverses sealAESGCM. A tag mismatch is reported as ErrIntegrity.
func openAESGCM(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrInvalidCiphertext, len(nonce), AESNonceSize)
	}
	if len(ciphertext) < AESTagSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the tag", ErrInvalidCiphertext, len(ciphertext))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
