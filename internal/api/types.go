package api

import (
	"time"
)

// UploadResponse is the body of a successful blob deposit.
type UploadResponse struct {
	Location string `json:"location"`
}

// InboxRegistration is returned when an inbox is created. The owner
// credential is the only way to read or delete the inbox's notifications.
type InboxRegistration struct {
	ReceiveEndpoint string    `json:"receiveEndpoint"`
	OwnerCredential string    `json:"ownerCredential"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
}

// Notification is one item waiting in an inbox.
type Notification struct {
	ID       string    `json:"id"`
	Content  []byte    `json:"content"`
	PostedAt time.Time `json:"postedAt"`
}

// NotificationList is the body returned when listing an inbox.
type NotificationList struct {
	Items []Notification `json:"items"`
}

// ErrorResponse is the body the relay returns alongside error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}
