// Package crypto provides the cryptographic engines behind the courier
// envelope. An [Engine] bundles signing, symmetric and asymmetric encryption,
// hashing and key generation behind one interface; [New] selects an
// implementation from a [Config].
//
// # Suites
//
//   - [SuitePQ] (default): ML-DSA-65 (FIPS 204) signatures, ML-KEM-768
//     (FIPS 203) key encapsulation with HKDF-SHA-512 key derivation, and
//     AES-GCM for both the payload and the sealed reference. AES key size is
//     configurable (128, 192 or 256 bits).
//
//   - [SuiteNaCl]: Ed25519 signatures, anonymous NaCl boxes
//     (X25519 + XSalsa20-Poly1305) for references and secretbox for payloads.
//
// Payload digests use SHA-256 unless [Config.HashAlgorithm] selects SHA-512
// or BLAKE2b-256.
//
// # Security Notes
//
// Signatures MUST be verified before anything is decrypted. Every symmetric
// encryption draws a fresh key and iv, so a payload key is never reused.
//
// Private keys are plain byte slices. They should never be logged,
// transmitted in plaintext, or stored in version control.
package crypto
