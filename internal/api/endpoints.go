package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Upload deposits content with the relay and returns the location the relay
// assigned to it. A zero expiresAt asks the relay to keep the content as long
// as it allows. Invalid expirations fail before any network call.
func (c *Client) Upload(ctx context.Context, content []byte, expiresAt time.Time, contentType, contentEncoding string) (*url.URL, error) {
	lifetime, err := LifetimeMinutes(expiresAt, c.now())
	if err != nil {
		return nil, err
	}

	u := c.RelayURL()
	u.Path = strings.TrimSuffix(u.Path, "/") + "/blob"
	u.RawQuery = url.Values{"lifetimeInMinutes": {strconv.Itoa(lifetime)}}.Encode()

	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if contentEncoding != "" {
		header.Set("Content-Encoding", contentEncoding)
	}

	data, err := c.do(ctx, &request{
		op:         "upload",
		method:     http.MethodPost,
		url:        u.String(),
		header:     header,
		body:       content,
		wantStatus: http.StatusCreated,
	})
	if err != nil {
		return nil, err
	}

	var resp UploadResponse
	if err := decodeJSON("upload", data, &resp); err != nil {
		return nil, err
	}
	location, err := c.relayURL.Parse(resp.Location)
	if err != nil || resp.Location == "" {
		return nil, errors.Errorf("relay returned invalid location %q", resp.Location)
	}

	c.log.WithFields(logrus.Fields{
		"host":     location.Host,
		"lifetime": lifetime,
		"size":     len(content),
	}).Debug("deposited blob")
	return location, nil
}

// Fetch retrieves content previously deposited at location.
func (c *Client) Fetch(ctx context.Context, location *url.URL) ([]byte, error) {
	return c.do(ctx, &request{
		op:     "fetch",
		method: http.MethodGet,
		url:    location.String(),
	})
}

// CreateInbox asks the relay for a new inbox.
func (c *Client) CreateInbox(ctx context.Context) (*InboxRegistration, error) {
	u := c.RelayURL()
	u.Path = strings.TrimSuffix(u.Path, "/") + "/inbox/create"

	data, err := c.do(ctx, &request{
		op:     "create inbox",
		method: http.MethodPost,
		url:    u.String(),
	})
	if err != nil {
		return nil, err
	}

	var reg InboxRegistration
	if err := decodeJSON("create inbox", data, &reg); err != nil {
		return nil, err
	}
	if reg.ReceiveEndpoint == "" || reg.OwnerCredential == "" {
		return nil, errors.New("relay returned an incomplete inbox registration")
	}
	endpoint, err := c.relayURL.Parse(reg.ReceiveEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse receive endpoint")
	}
	reg.ReceiveEndpoint = endpoint.String()
	return &reg, nil
}

// PostNotification deposits a notification in the inbox at receiveEndpoint.
func (c *Client) PostNotification(ctx context.Context, receiveEndpoint string, notification []byte, expiresAt time.Time) error {
	lifetime, err := LifetimeMinutes(expiresAt, c.now())
	if err != nil {
		return err
	}
	u, err := url.Parse(receiveEndpoint)
	if err != nil {
		return errors.Wrap(err, "parse receive endpoint")
	}
	q := u.Query()
	q.Set("lifetimeInMinutes", strconv.Itoa(lifetime))
	u.RawQuery = q.Encode()

	_, err = c.do(ctx, &request{
		op:     "post notification",
		method: http.MethodPost,
		url:    u.String(),
		header: http.Header{"Content-Type": {"application/json"}},
		body:   notification,
	})
	return err
}

// ListNotifications returns the notifications waiting in an inbox.
func (c *Client) ListNotifications(ctx context.Context, receiveEndpoint, credential string) ([]Notification, error) {
	data, err := c.do(ctx, &request{
		op:     "list notifications",
		method: http.MethodGet,
		url:    receiveEndpoint,
		header: bearer(credential),
	})
	if err != nil {
		return nil, err
	}

	var list NotificationList
	if err := decodeJSON("list notifications", data, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// DeleteNotification removes a processed notification. Deleting a
// notification that is already gone succeeds.
func (c *Client) DeleteNotification(ctx context.Context, receiveEndpoint, credential, id string) error {
	u := strings.TrimSuffix(receiveEndpoint, "/") + "/" + url.PathEscape(id)
	_, err := c.do(ctx, &request{
		op:     "delete notification",
		method: http.MethodDelete,
		url:    u,
		header: bearer(credential),
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

// DeleteInbox removes the inbox at receiveEndpoint together with any
// notifications still waiting in it. Deleting an inbox that is already gone
// succeeds.
func (c *Client) DeleteInbox(ctx context.Context, receiveEndpoint, credential string) error {
	_, err := c.do(ctx, &request{
		op:     "delete inbox",
		method: http.MethodDelete,
		url:    receiveEndpoint,
		header: bearer(credential),
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

func bearer(credential string) http.Header {
	return http.Header{"Authorization": {"Bearer " + credential}}
}
