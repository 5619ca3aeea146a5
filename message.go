package courier

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// MessageContentType tags serialized Message payloads so a fetched blob can be
// told apart from an attachment.
const MessageContentType = "application/vnd.courier.message+json"

// Forever, passed as an expiration, asks the relay to retain content for as
// long as it allows.
var Forever = time.Time{}

// Message is the logical secure message. Once sent it must not be mutated.
type Message struct {
	Author       Endpoint           `json:"author"`
	Recipients   []Endpoint         `json:"recipients"`
	CcRecipients []Endpoint         `json:"ccRecipients,omitempty"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body"`
	Attachments  []PayloadReference `json:"attachments,omitempty"`
	InReplyTo    *PayloadReference  `json:"inReplyTo,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	// ExpiresAt bounds how long the relay keeps the message. Zero means
	// Forever.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Equal compares messages by author, subject, body and creation time.
// Recipients and attachments are not part of a message's identity.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Author.Equal(other.Author) &&
		m.Subject == other.Subject &&
		m.Body == other.Body &&
		m.CreatedAt.Equal(other.CreatedAt)
}

// Validate checks the message can be sent.
func (m *Message) Validate() error {
	var errs []string

	if m.Author.IsZero() {
		errs = append(errs, "author is required")
	}
	all := m.AllRecipients()
	if len(all) == 0 {
		errs = append(errs, "at least one recipient is required")
	}

	seen := make(map[string]struct{}, len(all))
	for _, r := range append(append([]Endpoint(nil), m.Recipients...), m.CcRecipients...) {
		fp := r.Fingerprint()
		if _, dup := seen[fp]; dup {
			errs = append(errs, fmt.Sprintf("duplicate recipient %s", r))
			continue
		}
		seen[fp] = struct{}{}

		if len(r.SigningKey) == 0 || len(r.EncryptionKey) == 0 {
			errs = append(errs, fmt.Sprintf("recipient %s is missing key material", r))
		}
		if r.InboxURL == "" {
			errs = append(errs, fmt.Sprintf("recipient %s has no inbox", r))
		} else if u, err := url.Parse(r.InboxURL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Sprintf("recipient %s has an invalid inbox url", r))
		}
	}

	if !m.ExpiresAt.IsZero() && !m.CreatedAt.IsZero() && !m.ExpiresAt.After(m.CreatedAt) {
		errs = append(errs, "expiresAt must be after createdAt")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// AllRecipients returns Recipients followed by CcRecipients, without
// duplicates.
func (m *Message) AllRecipients() []Endpoint {
	out := make([]Endpoint, 0, len(m.Recipients)+len(m.CcRecipients))
	seen := make(map[string]struct{}, cap(out))
	for _, r := range append(append([]Endpoint(nil), m.Recipients...), m.CcRecipients...) {
		fp := r.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, r)
	}
	return out
}

// marshalMessage produces the canonical serialized form that is encrypted
// and hashed. Timestamps are normalized to UTC.
func marshalMessage(m *Message) ([]byte, error) {
	cp := *m
	cp.CreatedAt = cp.CreatedAt.UTC()
	if !cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = cp.ExpiresAt.UTC()
	}
	return json.Marshal(&cp)
}

// Payload is encrypted content as deposited with the relay.
type Payload struct {
	Ciphertext  []byte
	ContentType string
	// Owner is the hex digest of the plaintext, identifying the message or
	// attachment that produced the payload.
	Owner string
}

// PayloadReference points at a deposited Payload and carries everything
// needed to decrypt and verify it. It is only ever transmitted encrypted to
// a recipient.
type PayloadReference struct {
	Location      string    `json:"location"`
	Key           []byte    `json:"key"`
	IV            []byte    `json:"iv"`
	Hash          []byte    `json:"hash"`
	HashAlgorithm string    `json:"hashAlgorithm"`
	ContentType   string    `json:"contentType"`
	CreatedAt     time.Time `json:"createdAt"`
	// ExpiresAt is zero for references deposited Forever.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the reference expired before now.
func (r *PayloadReference) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// LocationURL parses Location.
func (r *PayloadReference) LocationURL() (*url.URL, error) {
	u, err := url.Parse(r.Location)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("location %q is not absolute", r.Location)
	}
	return u, nil
}

func (r PayloadReference) String() string {
	return fmt.Sprintf("payload %s (%s)", r.Location, r.ContentType)
}
