package crypto

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// naclEngine implements Engine with Ed25519, anonymous NaCl boxes and
// secretbox.
type naclEngine struct {
	hasher
	rand io.Reader
}

func (e *naclEngine) Suite() string       { return SuiteNaCl }
func (e *naclEngine) Ciphersuite() string { return NaClCiphersuite }

func (e *naclEngine) Sign(data, signingPrivateKey []byte) ([]byte, error) {
	if len(signingPrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key is %d bytes", ErrInvalidKey, len(signingPrivateKey))
	}
	return ed25519.Sign(ed25519.PrivateKey(signingPrivateKey), data), nil
}

func (e *naclEngine) Verify(signingPublicKey, data, signature []byte) (bool, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: ed25519 public key is %d bytes", ErrInvalidKey, len(signingPublicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidSignature, len(signature), ed25519.SignatureSize)
	}
	return ed25519.Verify(ed25519.PublicKey(signingPublicKey), data, signature), nil
}

func (e *naclEngine) EncryptSymmetric(plaintext []byte) (*SymmetricResult, error) {
	key, err := randomBytes(e.rand, SecretBoxKeySize)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(e.rand, SecretBoxNonceSize)
	if err != nil {
		return nil, err
	}
	var k [SecretBoxKeySize]byte
	var n [SecretBoxNonceSize]byte
	copy(k[:], key)
	copy(n[:], iv)
	return &SymmetricResult{
		Key:        key,
		IV:         iv,
		Ciphertext: secretbox.Seal(nil, plaintext, &n, &k),
	}, nil
}

func (e *naclEngine) DecryptSymmetric(r *SymmetricResult) ([]byte, error) {
	if len(r.Key) != SecretBoxKeySize {
		return nil, fmt.Errorf("%w: secretbox key is %d bytes", ErrInvalidKey, len(r.Key))
	}
	if len(r.IV) != SecretBoxNonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrInvalidCiphertext, len(r.IV))
	}
	var k [SecretBoxKeySize]byte
	var n [SecretBoxNonceSize]byte
	copy(k[:], r.Key)
	copy(n[:], r.IV)
	plaintext, ok := secretbox.Open(nil, r.Ciphertext, &n, &k)
	if !ok {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func (e *naclEngine) EncryptAsymmetric(publicKey, data []byte) ([]byte, error) {
	if len(publicKey) != BoxKeySize {
		return nil, fmt.Errorf("%w: x25519 public key is %d bytes", ErrInvalidKey, len(publicKey))
	}
	var pk [BoxKeySize]byte
	copy(pk[:], publicKey)
	return box.SealAnonymous(nil, data, &pk, e.rand)
}

func (e *naclEngine) DecryptAsymmetric(privateKey, data []byte) ([]byte, error) {
	if len(privateKey) != BoxKeySize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", ErrInvalidKey, len(privateKey))
	}
	if len(data) < box.AnonymousOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(data))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var pk, sk [BoxKeySize]byte
	copy(pk[:], pub)
	copy(sk[:], privateKey)
	plaintext, ok := box.OpenAnonymous(nil, data, &pk, &sk)
	if !ok {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func (e *naclEngine) GenerateSigningKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(e.rand)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

func (e *naclEngine) GenerateEncryptionKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(e.rand)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv[:], Public: pub[:]}, nil
}
