package courier

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/courierproto/client-go/internal/crypto"
)

const (
	// NotificationVersion is the current notification wire version.
	NotificationVersion = 1

	// notificationContext separates notification signatures from any other
	// signature made with the same key.
	notificationContext = "courier:notification:v1"
)

// notification is what the relay stores in a recipient's inbox. The
// reference is encrypted to the recipient and the signature covers the
// encrypted bytes, so the relay never sees anything it could replay as a
// signed plaintext.
type notification struct {
	Version   int      `json:"v"`
	Suite     string   `json:"suite"`
	Author    Endpoint `json:"author"`
	Reference string   `json:"ref"`
	Signature string   `json:"sig"`
}

// notificationTranscript is the byte string the author signs:
// context || version || ciphersuite || len(recipientKey) || recipientKey ||
// len(ref) || ref. Binding the recipient's key stops a notification from
// being re-addressed to a different inbox.
func notificationTranscript(version int, ciphersuite string, recipientKey, encryptedRef []byte) []byte {
	t := make([]byte, 0, len(notificationContext)+1+len(ciphersuite)+8+len(recipientKey)+len(encryptedRef))
	t = append(t, notificationContext...)
	t = append(t, byte(version))
	t = append(t, ciphersuite...)
	t = binary.BigEndian.AppendUint32(t, uint32(len(recipientKey)))
	t = append(t, recipientKey...)
	t = binary.BigEndian.AppendUint32(t, uint32(len(encryptedRef)))
	t = append(t, encryptedRef...)
	return t
}

// sealNotification encrypts ref to recipient and signs the result as author.
func sealNotification(engine crypto.Engine, author *OwnEndpoint, recipient Endpoint, ref *PayloadReference) ([]byte, error) {
	plain, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshal reference: %w", err)
	}
	encrypted, err := engine.EncryptAsymmetric(recipient.EncryptionKey, plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt reference for %s: %w", recipient, err)
	}
	transcript := notificationTranscript(NotificationVersion, engine.Ciphersuite(), recipient.EncryptionKey, encrypted)
	sig, err := engine.Sign(transcript, author.signingPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign notification: %w", err)
	}

	return json.Marshal(notification{
		Version:   NotificationVersion,
		Suite:     engine.Suite(),
		Author:    author.Public(),
		Reference: crypto.ToBase64URL(encrypted),
		Signature: crypto.ToBase64URL(sig),
	})
}

// openNotification authenticates a notification addressed to self and
// returns the decrypted reference and the author. The signature is checked
// before anything is decrypted.
func openNotification(engine crypto.Engine, self *OwnEndpoint, content []byte) (*PayloadReference, Endpoint, error) {
	var n notification
	if err := json.Unmarshal(content, &n); err != nil {
		return nil, Endpoint{}, &AuthenticationError{Reason: "malformed notification", Err: err}
	}
	if n.Version != NotificationVersion {
		return nil, Endpoint{}, &AuthenticationError{Reason: fmt.Sprintf("unsupported notification version %d", n.Version)}
	}
	if n.Suite != engine.Suite() {
		return nil, Endpoint{}, &AuthenticationError{Reason: fmt.Sprintf("notification suite %q, expected %q", n.Suite, engine.Suite())}
	}
	encrypted, err := crypto.FromBase64URL(n.Reference)
	if err != nil {
		return nil, Endpoint{}, &AuthenticationError{Reason: "malformed reference encoding", Err: err}
	}
	sig, err := crypto.FromBase64URL(n.Signature)
	if err != nil {
		return nil, Endpoint{}, &AuthenticationError{Reason: "malformed signature encoding", Err: err}
	}

	transcript := notificationTranscript(n.Version, engine.Ciphersuite(), self.EncryptionKey, encrypted)
	ok, err := engine.Verify(n.Author.SigningKey, transcript, sig)
	if err != nil {
		return nil, n.Author, &AuthenticationError{Reason: "malformed signature", Err: err}
	}
	if !ok {
		return nil, n.Author, &AuthenticationError{Reason: "signature does not verify"}
	}

	plain, err := engine.DecryptAsymmetric(self.encryptionPrivateKey, encrypted)
	if err != nil {
		return nil, n.Author, &IntegrityError{Stage: "reference", Err: err}
	}
	var ref PayloadReference
	if err := json.Unmarshal(plain, &ref); err != nil {
		return nil, n.Author, &IntegrityError{Stage: "decode", Err: err}
	}
	return &ref, n.Author, nil
}

// notificationDigest identifies a notification independently of the relay's
// id, so reprocessing the same content is recognizable.
func notificationDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
