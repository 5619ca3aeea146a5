package courier

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/davecgh/go-xdr/xdr2"

	"github.com/courierproto/client-go/internal/crypto"
)

// Endpoint is a party's public identity: the keys others use to verify its
// signatures and encrypt to it, plus the inbox where it receives
// notifications. Endpoints are values; do not mutate the key slices.
type Endpoint struct {
	SigningKey    []byte
	EncryptionKey []byte
	// InboxURL is the receive endpoint of the party's relay inbox. It may be
	// empty for identities that only send.
	InboxURL string
}

// Equal reports whether e and other carry the same key material. InboxURL is
// not part of identity.
func (e Endpoint) Equal(other Endpoint) bool {
	return bytes.Equal(e.SigningKey, other.SigningKey) &&
		bytes.Equal(e.EncryptionKey, other.EncryptionKey)
}

// IsZero reports whether e carries no key material.
func (e Endpoint) IsZero() bool {
	return len(e.SigningKey) == 0 && len(e.EncryptionKey) == 0
}

// Fingerprint returns the hex SHA-256 over both public keys.
func (e Endpoint) Fingerprint() string {
	h := sha256.New()
	h.Write(e.SigningKey)
	h.Write(e.EncryptionKey)
	return hex.EncodeToString(h.Sum(nil))
}

func (e Endpoint) String() string {
	return "endpoint:" + e.Fingerprint()[:16]
}

type endpointJSON struct {
	SigningKey    string `json:"signingKey"`
	EncryptionKey string `json:"encryptionKey"`
	InboxURL      string `json:"inbox,omitempty"`
}

// MarshalJSON encodes keys as unpadded base64url.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(endpointJSON{
		SigningKey:    crypto.ToBase64URL(e.SigningKey),
		EncryptionKey: crypto.ToBase64URL(e.EncryptionKey),
		InboxURL:      e.InboxURL,
	})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var raw endpointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sig, err := crypto.FromBase64URL(raw.SigningKey)
	if err != nil {
		return fmt.Errorf("%w: signing key: %v", ErrInvalidKey, err)
	}
	enc, err := crypto.FromBase64URL(raw.EncryptionKey)
	if err != nil {
		return fmt.Errorf("%w: encryption key: %v", ErrInvalidKey, err)
	}
	*e = Endpoint{SigningKey: sig, EncryptionKey: enc, InboxURL: raw.InboxURL}
	return nil
}

// OwnEndpoint is the local party's identity: the public Endpoint plus the
// matching private keys. Private keys never leave the value except through
// MarshalBinary.
type OwnEndpoint struct {
	Endpoint
	suite                string
	signingPrivateKey    []byte
	encryptionPrivateKey []byte
}

// GenerateOwnEndpoint creates a fresh identity with engine's suite.
func GenerateOwnEndpoint(engine crypto.Engine, inboxURL string) (*OwnEndpoint, error) {
	sig, err := engine.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	enc, err := engine.GenerateEncryptionKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	return &OwnEndpoint{
		Endpoint: Endpoint{
			SigningKey:    sig.Public,
			EncryptionKey: enc.Public,
			InboxURL:      inboxURL,
		},
		suite:                engine.Suite(),
		signingPrivateKey:    sig.Private,
		encryptionPrivateKey: enc.Private,
	}, nil
}

// NewOwnEndpoint assembles an identity from existing key material. It signs
// and encrypts a probe to prove that each private key matches its public
// half, and returns ErrInvalidKey if either does not.
func NewOwnEndpoint(engine crypto.Engine, public Endpoint, signingPrivateKey, encryptionPrivateKey []byte) (*OwnEndpoint, error) {
	probe := []byte("courier key probe " + public.Fingerprint())

	sig, err := engine.Sign(probe, signingPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %v", ErrInvalidKey, err)
	}
	ok, err := engine.Verify(public.SigningKey, probe, sig)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: signing keys do not match", ErrInvalidKey)
	}

	ct, err := engine.EncryptAsymmetric(public.EncryptionKey, probe)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key: %v", ErrInvalidKey, err)
	}
	pt, err := engine.DecryptAsymmetric(encryptionPrivateKey, ct)
	if err != nil || !bytes.Equal(pt, probe) {
		return nil, fmt.Errorf("%w: encryption keys do not match", ErrInvalidKey)
	}

	return &OwnEndpoint{
		Endpoint:             public,
		suite:                engine.Suite(),
		signingPrivateKey:    append([]byte(nil), signingPrivateKey...),
		encryptionPrivateKey: append([]byte(nil), encryptionPrivateKey...),
	}, nil
}

// Public returns the public half of the identity.
func (o *OwnEndpoint) Public() Endpoint {
	return o.Endpoint
}

// Suite returns the crypto suite the keys belong to.
func (o *OwnEndpoint) Suite() string {
	return o.suite
}

// WithInboxURL returns a copy of o advertising a different inbox.
func (o *OwnEndpoint) WithInboxURL(inboxURL string) *OwnEndpoint {
	cp := *o
	cp.InboxURL = inboxURL
	return &cp
}

func (o *OwnEndpoint) String() string {
	return "own-" + o.Endpoint.String()
}

// GoString keeps private keys out of %#v output.
func (o *OwnEndpoint) GoString() string {
	return fmt.Sprintf("courier.OwnEndpoint{%s, suite: %q}", o.Endpoint.String(), o.suite)
}

// ownEndpointRecord is the XDR layout of a serialized OwnEndpoint.
type ownEndpointRecord struct {
	Version              uint32
	Suite                string
	SigningKey           []byte
	EncryptionKey        []byte
	InboxURL             string
	SigningPrivateKey    []byte
	EncryptionPrivateKey []byte
}

const ownEndpointVersion = 1

// MarshalBinary serializes the identity, private keys included. Protect the
// output accordingly.
func (o *OwnEndpoint) MarshalBinary() ([]byte, error) {
	b := &bytes.Buffer{}
	_, err := xdr.Marshal(b, ownEndpointRecord{
		Version:              ownEndpointVersion,
		Suite:                o.suite,
		SigningKey:           o.SigningKey,
		EncryptionKey:        o.EncryptionKey,
		InboxURL:             o.InboxURL,
		SigningPrivateKey:    o.signingPrivateKey,
		EncryptionPrivateKey: o.encryptionPrivateKey,
	})
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalOwnEndpoint restores an identity written by MarshalBinary and
// checks its keys against engine.
func UnmarshalOwnEndpoint(engine crypto.Engine, data []byte) (*OwnEndpoint, error) {
	var rec ownEndpointRecord
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if rec.Version != ownEndpointVersion {
		return nil, fmt.Errorf("%w: unsupported identity version %d", ErrInvalidKey, rec.Version)
	}
	if rec.Suite != engine.Suite() {
		return nil, fmt.Errorf("%w: identity uses suite %q, engine is %q", ErrInvalidKey, rec.Suite, engine.Suite())
	}
	if rec.InboxURL != "" {
		if _, err := url.Parse(rec.InboxURL); err != nil {
			return nil, fmt.Errorf("%w: inbox url: %v", ErrInvalidKey, err)
		}
	}
	return NewOwnEndpoint(engine, Endpoint{
		SigningKey:    rec.SigningKey,
		EncryptionKey: rec.EncryptionKey,
		InboxURL:      rec.InboxURL,
	}, rec.SigningPrivateKey, rec.EncryptionPrivateKey)
}
