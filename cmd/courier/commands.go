package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli"

	courier "github.com/courierproto/client-go"
)

// messageOutput is one received message as printed by receive and messages.
type messageOutput struct {
	Inbox       string             `json:"inbox"`
	Digest      string             `json:"digest"`
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Cc          []string           `json:"cc,omitempty"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Attachments []attachmentOutput `json:"attachments,omitempty"`
	CreatedAt   string             `json:"createdAt"`
	ReceivedAt  string             `json:"receivedAt"`
}

type attachmentOutput struct {
	Location    string `json:"location"`
	ContentType string `json:"contentType"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

func newMessageOutput(m *courier.ReceivedMessage) messageOutput {
	out := messageOutput{
		Inbox:      m.Inbox,
		Digest:     m.Digest,
		From:       m.Sender.Fingerprint(),
		Subject:    m.Message.Subject,
		Body:       m.Message.Body,
		CreatedAt:  m.Message.CreatedAt.UTC().Format(time.RFC3339),
		ReceivedAt: m.ReceivedAt.UTC().Format(time.RFC3339),
	}
	for _, r := range m.Message.Recipients {
		out.To = append(out.To, r.Fingerprint())
	}
	for _, r := range m.Message.CcRecipients {
		out.Cc = append(out.Cc, r.Fingerprint())
	}
	for _, a := range m.Message.Attachments {
		att := attachmentOutput{Location: a.Location, ContentType: a.ContentType}
		if !a.ExpiresAt.IsZero() {
			att.ExpiresAt = a.ExpiresAt.UTC().Format(time.RFC3339)
		}
		out.Attachments = append(out.Attachments, att)
	}
	return out
}

func (e *env) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.cfg.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) initConfig(c *cli.Context) error {
	filename := c.GlobalString("config")
	if err := WriteDefaultConfig(filename); err != nil {
		return err
	}
	fmt.Fprintln(e.cfg.Stdout, filename)
	return nil
}

func (e *env) keygen(c *cli.Context) error {
	path := e.settings.IdentityPath()
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("identity %s exists, use --force to replace it", path)
	}

	engine, err := e.getEngine()
	if err != nil {
		return err
	}
	id, err := courier.GenerateOwnEndpoint(engine, "")
	if err != nil {
		return err
	}
	if err := e.saveIdentity(id); err != nil {
		return err
	}
	fmt.Fprintln(e.cfg.Stdout, id.Fingerprint())
	return nil
}

func (e *env) endpoint(c *cli.Context) error {
	id, err := e.loadIdentity()
	if err != nil {
		return err
	}
	if id.InboxURL == "" {
		e.log.Warn("identity has no inbox yet, senders cannot reach it; run inbox create")
	}
	return e.printJSON(id.Public())
}

func (e *env) inboxCreate(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}
	inbox, err := client.CreateInbox(ctx)
	if err != nil {
		return err
	}
	export := inbox.Export()
	if err := e.db.SaveInbox(ctx, export); err != nil {
		return err
	}

	id, err := e.loadIdentity()
	if err != nil {
		return err
	}
	if id.InboxURL == "" {
		if err := e.saveIdentity(id.WithInboxURL(inbox.ReceiveEndpoint())); err != nil {
			return err
		}
	}
	return e.printJSON(export)
}

func (e *env) inboxList(c *cli.Context) error {
	db, err := e.getDB()
	if err != nil {
		return err
	}
	inboxes, err := db.LoadInboxes(context.Background())
	if err != nil {
		return err
	}
	for _, in := range inboxes {
		expires := "never"
		if !in.ExpiresAt.IsZero() {
			expires = in.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(e.cfg.Stdout, "%s\texpires %s\n", in.ReceiveEndpoint, expires)
	}
	return nil
}

func (e *env) inboxDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: inbox delete <receive endpoint>")
	}
	endpoint := c.Args().First()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteInbox(ctx, endpoint); err != nil && !errors.Is(err, courier.ErrNotFound) {
		return err
	}
	return e.db.DeleteInbox(ctx, endpoint)
}

// readEndpoint loads an Endpoint from a JSON file as printed by the
// endpoint command.
func readEndpoint(path string) (courier.Endpoint, error) {
	var ep courier.Endpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return ep, err
	}
	if err := json.Unmarshal(data, &ep); err != nil {
		return ep, fmt.Errorf("%s: %w", path, err)
	}
	return ep, nil
}

// splitRecipients separates endpoint files from identifiers the address
// book has to resolve.
func splitRecipients(values []string) ([]courier.Endpoint, []string, error) {
	var (
		endpoints   []courier.Endpoint
		identifiers []string
	)
	for _, v := range values {
		if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
			ep, err := readEndpoint(v)
			if err != nil {
				return nil, nil, err
			}
			endpoints = append(endpoints, ep)
			continue
		}
		identifiers = append(identifiers, v)
	}
	return endpoints, identifiers, nil
}

func (e *env) send(c *cli.Context) error {
	to, toIDs, err := splitRecipients(c.StringSlice("to"))
	if err != nil {
		return err
	}
	cc, ccIDs, err := splitRecipients(c.StringSlice("cc"))
	if err != nil {
		return err
	}
	if len(ccIDs) > 0 {
		return fmt.Errorf("cc recipients must be endpoint files: %s", strings.Join(ccIDs, ", "))
	}

	body := strings.Join(c.Args(), " ")
	if body == "" {
		data, err := io.ReadAll(e.cfg.Stdin)
		if err != nil {
			return err
		}
		body = string(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}

	expiresAt := courier.Forever
	if d := c.Duration("expires"); d > 0 {
		expiresAt = time.Now().Add(d)
	}

	msg := &courier.Message{
		Recipients:   to,
		CcRecipients: cc,
		Subject:      c.String("subject"),
		Body:         body,
		ExpiresAt:    expiresAt,
	}
	for _, path := range c.StringSlice("attach") {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		ref, err := client.DepositAttachment(ctx, content, mime.TypeByExtension(filepath.Ext(path)), expiresAt)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		msg.Attachments = append(msg.Attachments, *ref)
	}

	var res *courier.SendResult
	if len(toIDs) > 0 {
		res, err = client.SendTo(ctx, msg, toIDs...)
	} else {
		res, err = client.Send(ctx, msg)
	}
	if res != nil {
		for _, d := range res.Deliveries {
			status := "delivered"
			if d.Err != nil {
				status = d.Err.Error()
			}
			fmt.Fprintf(e.cfg.Stdout, "%s\t%s\n", d.Recipient.Fingerprint(), status)
		}
	}
	return err
}

func (e *env) receive(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}
	inboxes := client.Inboxes()
	if len(inboxes) == 0 {
		return errors.New("no inboxes, run inbox create")
	}

	var failed int
	for _, inbox := range inboxes {
		results, err := client.Receive(ctx, inbox, func(ctx context.Context, m *courier.ReceivedMessage) error {
			if err := e.db.SaveMessage(ctx, m); err != nil {
				return err
			}
			return e.printJSON(newMessageOutput(m))
		})
		if err != nil {
			return fmt.Errorf("%s: %w", inbox.ReceiveEndpoint(), err)
		}
		for _, r := range results {
			if r.Err != nil {
				failed++
				e.log.WithField("notification", r.NotificationID).WithError(r.Err).Warn("notification not consumed")
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d notifications could not be consumed", failed)
	}
	return nil
}

func (e *env) messages(c *cli.Context) error {
	db, err := e.getDB()
	if err != nil {
		return err
	}
	msgs, err := db.Messages(context.Background(), "")
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := e.printJSON(newMessageOutput(m)); err != nil {
			return err
		}
	}
	return nil
}

func (e *env) bookRegister(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: book register --user <id> [--email <address>] <endpoint file>")
	}
	user := c.String("user")
	if user == "" {
		return errors.New("--user is required")
	}
	ep, err := readEndpoint(c.Args().First())
	if err != nil {
		return err
	}

	book, err := e.getBook()
	if err != nil {
		return err
	}
	entry, err := book.Register(context.Background(), c.String("provider"), user, ep, c.StringSlice("email")...)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.cfg.Stdout, entry.Key())
	return nil
}

func (e *env) bookLookup(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: book lookup <email|digest>")
	}
	book, err := e.getBook()
	if err != nil {
		return err
	}
	ep, found, err := book.Resolve(context.Background(), c.Args().First())
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", courier.ErrNotFound, c.Args().First())
	}
	return e.printJSON(ep)
}
