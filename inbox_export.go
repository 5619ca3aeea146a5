package courier

import (
	"fmt"
	"net/url"
	"time"
)

// ExportVersion is the current export format version.
const ExportVersion = 1

// ExportedInbox contains all data needed to restore an inbox.
// WARNING: OwnerCredential grants read and delete access to the inbox.
type ExportedInbox struct {
	// Version is the export format version. MUST be 1.
	Version int `json:"version"`
	// ReceiveEndpoint is the inbox URL. Absolute http or https.
	ReceiveEndpoint string `json:"receiveEndpoint"`
	// OwnerCredential is the bearer credential returned at creation.
	OwnerCredential string `json:"ownerCredential"`
	// ExpiresAt is the inbox expiration. Zero for inboxes that never expire.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// ExportedAt is the export timestamp. Informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the exported data is usable.
func (e *ExportedInbox) Validate() error {
	if e.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidImportData, e.Version, ExportVersion)
	}

	if e.ReceiveEndpoint == "" {
		return fmt.Errorf("%w: receiveEndpoint is required", ErrInvalidImportData)
	}
	u, err := url.Parse(e.ReceiveEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: receiveEndpoint must be an absolute http(s) URL", ErrInvalidImportData)
	}

	if e.OwnerCredential == "" {
		return fmt.Errorf("%w: ownerCredential is required", ErrInvalidImportData)
	}
	return nil
}

// Export returns exportable inbox data.
func (i *Inbox) Export() *ExportedInbox {
	return &ExportedInbox{
		Version:         ExportVersion,
		ReceiveEndpoint: i.receiveEndpoint,
		OwnerCredential: i.credential,
		ExpiresAt:       i.expiresAt,
		ExportedAt:      i.client.now().UTC(),
	}
}

// newInboxFromExport reconstructs an inbox from exported data.
func newInboxFromExport(data *ExportedInbox, c *Client) (*Inbox, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	inbox := &Inbox{
		receiveEndpoint: data.ReceiveEndpoint,
		credential:      data.OwnerCredential,
		expiresAt:       data.ExpiresAt,
		client:          c,
		state:           InboxCreated,
	}
	if inbox.IsExpired() {
		return nil, fmt.Errorf("%w: inbox expired at %s", ErrInboxClosed, data.ExpiresAt.Format(time.RFC3339))
	}
	return inbox, nil
}
