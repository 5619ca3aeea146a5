package crypto

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// pqEngine implements Engine with ML-DSA-65, ML-KEM-768, HKDF-SHA-512 and
// AES-GCM.
//
// Asymmetric ciphertext format: ct_kem || nonce (12 bytes) || aes-gcm output.
// The recipient's public key is the GCM additional data.
type pqEngine struct {
	hasher
	keySize int
	rand    io.Reader
}

func (e *pqEngine) Suite() string       { return SuitePQ }
func (e *pqEngine) Ciphersuite() string { return PQCiphersuite }

func (e *pqEngine) Sign(data, signingPrivateKey []byte) ([]byte, error) {
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(signingPrivateKey); err != nil {
		return nil, fmt.Errorf("%w: ml-dsa private key: %v", ErrInvalidKey, err)
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(&sk, data, nil, false, sig); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

func (e *pqEngine) Verify(signingPublicKey, data, signature []byte) (bool, error) {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(signingPublicKey); err != nil {
		return false, fmt.Errorf("%w: ml-dsa public key: %v", ErrInvalidKey, err)
	}
	if len(signature) != mldsa65.SignatureSize {
		return false, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidSignature, len(signature), mldsa65.SignatureSize)
	}
	return mldsa65.Verify(&pk, data, nil, signature), nil
}

func (e *pqEngine) EncryptSymmetric(plaintext []byte) (*SymmetricResult, error) {
	key, err := randomBytes(e.rand, e.keySize)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(e.rand, AESNonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := sealAESGCM(key, iv, nil, plaintext)
	if err != nil {
		return nil, err
	}
	return &SymmetricResult{Key: key, IV: iv, Ciphertext: ct}, nil
}

func (e *pqEngine) DecryptSymmetric(r *SymmetricResult) ([]byte, error) {
	return openAESGCM(r.Key, r.IV, nil, r.Ciphertext)
}

func (e *pqEngine) EncryptAsymmetric(publicKey, data []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ml-kem public key: %v", ErrInvalidKey, err)
	}

	seed, err := randomBytes(e.rand, scheme.EncapsulationSeedSize())
	if err != nil {
		return nil, err
	}
	ctKem, sharedSecret, err := scheme.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, fmt.Errorf("encapsulate: %w", err)
	}

	key, err := deriveKey(sharedSecret, ctKem, publicKey, AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	nonce, err := randomBytes(e.rand, AESNonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := sealAESGCM(key, nonce, publicKey, data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ctKem)+len(nonce)+len(ct))
	out = append(out, ctKem...)
	out = append(out, nonce...)
	return append(out, ct...), nil
}

func (e *pqEngine) DecryptAsymmetric(privateKey, data []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ml-kem private key: %v", ErrInvalidKey, err)
	}

	ctSize := scheme.CiphertextSize()
	if len(data) < ctSize+AESNonceSize+AESTagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(data))
	}
	ctKem := data[:ctSize]
	nonce := data[ctSize : ctSize+AESNonceSize]
	ct := data[ctSize+AESNonceSize:]

	sharedSecret, err := scheme.Decapsulate(sk, ctKem)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}

	publicKey, err := sk.Public().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, err := deriveKey(sharedSecret, ctKem, publicKey, AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return openAESGCM(key, nonce, publicKey, ct)
}

func (e *pqEngine) GenerateSigningKeyPair() (*KeyPair, error) {
	pub, priv, err := mldsa65.GenerateKey(e.rand)
	if err != nil {
		return nil, err
	}
	// MarshalBinary never fails for keys from GenerateKey
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()
	return &KeyPair{Private: privBytes, Public: pubBytes}, nil
}

func (e *pqEngine) GenerateEncryptionKeyPair() (*KeyPair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(e.rand)
	if err != nil {
		return nil, err
	}
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()
	return &KeyPair{Private: privBytes, Public: pubBytes}, nil
}
