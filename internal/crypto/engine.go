package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Engine is the capability set the envelope layer is written against.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Sign produces a deterministic signature over data.
	Sign(data, signingPrivateKey []byte) ([]byte, error)

	// Verify reports whether signature is valid for data. A well formed
	// signature that does not match yields false and a nil error; malformed
	// keys or signature encodings yield an error.
	Verify(signingPublicKey, data, signature []byte) (bool, error)

	// EncryptSymmetric encrypts plaintext under a freshly generated key and iv.
	EncryptSymmetric(plaintext []byte) (*SymmetricResult, error)

	// DecryptSymmetric reverses EncryptSymmetric. Authentication failures are
	// reported as ErrIntegrity.
	DecryptSymmetric(r *SymmetricResult) ([]byte, error)

	// EncryptAsymmetric encrypts data so only the holder of the private half
	// of publicKey can read it.
	EncryptAsymmetric(publicKey, data []byte) ([]byte, error)

	// DecryptAsymmetric reverses EncryptAsymmetric.
	DecryptAsymmetric(privateKey, data []byte) ([]byte, error)

	// Hash digests data with the configured hash algorithm.
	Hash(data []byte) []byte

	// HashAlgorithm names the configured hash algorithm.
	HashAlgorithm() string

	GenerateSigningKeyPair() (*KeyPair, error)
	GenerateEncryptionKeyPair() (*KeyPair, error)

	// Suite names the engine's suite (SuitePQ or SuiteNaCl).
	Suite() string

	// Ciphersuite describes the algorithms the engine combines.
	Ciphersuite() string
}

// KeyPair holds the raw bytes of a private and public key.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// SymmetricResult is the output of a symmetric encryption. Key and IV are
// freshly generated for every call.
type SymmetricResult struct {
	Key        []byte
	IV         []byte
	Ciphertext []byte
}

// Config selects and parameterizes an Engine.
type Config struct {
	// Suite selects the engine. Defaults to SuitePQ.
	Suite string

	// SymmetricKeySize is the AES key size in bytes for SuitePQ: 16, 24 or
	// 32. Defaults to 32. SuiteNaCl always uses 32.
	SymmetricKeySize int

	// HashAlgorithm names the digest used for payload integrity.
	// Defaults to HashSHA256.
	HashAlgorithm string

	// Rand is the source of randomness for keys, ivs and encapsulation.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Suite:            SuitePQ,
		SymmetricKeySize: AESKeySize,
		HashAlgorithm:    HashSHA256,
		Rand:             rand.Reader,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Suite == "" {
		c.Suite = d.Suite
	}
	if c.SymmetricKeySize == 0 {
		c.SymmetricKeySize = d.SymmetricKeySize
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = d.HashAlgorithm
	}
	if c.Rand == nil {
		c.Rand = d.Rand
	}
	return c
}

// New returns the Engine selected by cfg. Zero fields take their defaults.
func New(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()

	h, err := newHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	switch cfg.Suite {
	case SuitePQ:
		if !validAESKeySize(cfg.SymmetricKeySize) {
			return nil, fmt.Errorf("symmetric key size %d: must be 16, 24 or 32", cfg.SymmetricKeySize)
		}
		return &pqEngine{hasher: h, keySize: cfg.SymmetricKeySize, rand: cfg.Rand}, nil
	case SuiteNaCl:
		if cfg.SymmetricKeySize != SecretBoxKeySize {
			return nil, fmt.Errorf("symmetric key size %d: %s requires %d", cfg.SymmetricKeySize, SuiteNaCl, SecretBoxKeySize)
		}
		return &naclEngine{hasher: h, rand: cfg.Rand}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, cfg.Suite)
	}
}

// hasher binds a hash constructor to its name.
type hasher struct {
	name string
	new  func() hash.Hash
}

func newHasher(name string) (hasher, error) {
	switch name {
	case HashSHA256:
		return hasher{name, sha256.New}, nil
	case HashSHA512:
		return hasher{name, sha512.New}, nil
	case HashBLAKE2b256:
		return hasher{name, func() hash.Hash {
			// Only fails for keys longer than 64 bytes.
			h, _ := blake2b.New256(nil)
			return h
		}}, nil
	}
	return hasher{}, fmt.Errorf("%w: %q", ErrUnknownHash, name)
}

func (h hasher) Hash(data []byte) []byte {
	d := h.new()
	d.Write(data)
	return d.Sum(nil)
}

func (h hasher) HashAlgorithm() string {
	return h.name
}

// HashWith digests data with the named algorithm. It is used to check
// references produced by a peer configured with a different hash.
func HashWith(algorithm string, data []byte) ([]byte, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return nil, err
	}
	return h.Hash(data), nil
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
