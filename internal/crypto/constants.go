package crypto

// Suite names accepted by Config.Suite.
const (
	// SuitePQ selects ML-DSA-65 signatures, ML-KEM-768 key encapsulation and
	// AES-GCM. It is the default.
	SuitePQ = "pq"
	// SuiteNaCl selects Ed25519 signatures, NaCl anonymous boxes and secretbox.
	SuiteNaCl = "nacl"
)

// Ciphersuite strings bound into every signature transcript.
const (
	PQCiphersuite   = "ML-KEM-768:ML-DSA-65:AES-GCM:HKDF-SHA-512"
	NaClCiphersuite = "X25519:Ed25519:XSalsa20-Poly1305"
)

// Hash algorithm names accepted by Config.HashAlgorithm.
const (
	HashSHA256     = "SHA-256"
	HashSHA512     = "SHA-512"
	HashBLAKE2b256 = "BLAKE2b-256"
)

const (
	// KEMContext is the HKDF info prefix used when deriving AES keys from
	// ML-KEM shared secrets.
	KEMContext = "courier:envelope:v1"

	// AESKeySize is the default AES-256 key size in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// SecretBoxKeySize is the NaCl secretbox key size in bytes.
	SecretBoxKeySize = 32
	// SecretBoxNonceSize is the NaCl secretbox nonce size in bytes.
	SecretBoxNonceSize = 24
	// BoxKeySize is the size of an X25519 public or private key.
	BoxKeySize = 32
)
