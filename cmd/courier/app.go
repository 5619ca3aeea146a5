package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	courier "github.com/courierproto/client-go"
	"github.com/courierproto/client-go/addressbook"
	"github.com/courierproto/client-go/internal/crypto"
	"github.com/courierproto/client-go/store"
)

const commandTimeout = 2 * time.Minute

// env is what every command works with. Fields are opened lazily.
type env struct {
	cfg      Config
	settings *Settings
	log      *logrus.Logger

	engine crypto.Engine
	db     *store.DB
	client *courier.Client
}

func newApp(cfg Config) *cli.App {
	app := cli.NewApp()
	app.Name = "courier"
	app.Usage = "store-and-forward secure messaging"
	app.Version = "0.1.0"
	app.Writer = cfg.Stdout
	app.ErrWriter = cfg.Stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  DefaultConfigPath(),
			Usage:  "configuration file",
			EnvVar: "COURIER_CONFIG",
		},
		cli.StringFlag{
			Name:   "root",
			Usage:  "directory holding the identity and local database",
			EnvVar: "COURIER_ROOT",
		},
		cli.StringFlag{
			Name:   "relay",
			Usage:  "relay URL",
			EnvVar: "COURIER_RELAY",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "log at debug level",
		},
	}

	e := &env{cfg: cfg}
	app.Before = func(c *cli.Context) error {
		return e.init(c)
	}
	app.After = func(c *cli.Context) error {
		return e.close()
	}

	app.Commands = []cli.Command{
		{
			Name:   "init",
			Usage:  "write a default configuration file",
			Action: e.initConfig,
		},
		{
			Name:  "keygen",
			Usage: "generate an identity",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "force", Usage: "replace an existing identity"},
			},
			Action: e.keygen,
		},
		{
			Name:   "endpoint",
			Usage:  "print the public endpoint to share with senders",
			Action: e.endpoint,
		},
		{
			Name:  "inbox",
			Usage: "manage relay inboxes",
			Subcommands: []cli.Command{
				{
					Name:   "create",
					Usage:  "create an inbox and make it the identity's default",
					Action: e.inboxCreate,
				},
				{
					Name:   "list",
					Usage:  "list stored inboxes",
					Action: e.inboxList,
				},
				{
					Name:      "delete",
					Usage:     "delete an inbox from the relay and the local database",
					ArgsUsage: "<receive endpoint>",
					Action:    e.inboxDelete,
				},
			},
		},
		{
			Name:      "send",
			Usage:     "send a message",
			ArgsUsage: "[body]",
			Flags: []cli.Flag{
				cli.StringSliceFlag{Name: "to", Usage: "recipient endpoint file, email or email digest"},
				cli.StringSliceFlag{Name: "cc", Usage: "cc recipient endpoint file, email or email digest"},
				cli.StringFlag{Name: "subject, s", Usage: "subject"},
				cli.StringSliceFlag{Name: "attach, a", Usage: "file to attach"},
				cli.DurationFlag{Name: "expires", Usage: "how long the relay keeps the message; 0 keeps it as long as allowed"},
			},
			Action: e.send,
		},
		{
			Name:   "receive",
			Usage:  "fetch, verify and store waiting messages",
			Action: e.receive,
		},
		{
			Name:   "messages",
			Usage:  "print stored messages",
			Action: e.messages,
		},
		{
			Name:  "book",
			Usage: "address book",
			Subcommands: []cli.Command{
				{
					Name:      "register",
					Usage:     "register an endpoint under a provider and user id",
					ArgsUsage: "<endpoint file>",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "provider", Value: "local"},
						cli.StringFlag{Name: "user"},
						cli.StringSliceFlag{Name: "email"},
					},
					Action: e.bookRegister,
				},
				{
					Name:      "lookup",
					Usage:     "resolve an email or email digest",
					ArgsUsage: "<email|digest>",
					Action:    e.bookLookup,
				},
			},
		},
		{
			Name:  "relay",
			Usage: "development relay",
			Subcommands: []cli.Command{
				{
					Name:  "serve",
					Usage: "run a relay",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "listen", Usage: "listen address"},
						cli.StringFlag{Name: "base-url", Usage: "externally visible URL"},
						cli.StringFlag{Name: "redis", Usage: "redis URL for blob storage"},
					},
					Action: e.relayServe,
				},
			},
		},
	}
	return app
}

func run(args []string, cfg Config) error {
	return newApp(cfg).Run(args)
}

func (e *env) init(c *cli.Context) error {
	mustExist := c.GlobalIsSet("config") && c.Args().First() != "init"
	settings, err := LoadSettings(c.GlobalString("config"), mustExist)
	if err != nil {
		return err
	}
	if root := c.GlobalString("root"); root != "" {
		settings.Root = root
		if err := settings.expand(); err != nil {
			return err
		}
	}
	if relay := c.GlobalString("relay"); relay != "" {
		settings.RelayURL = relay
	}
	if c.GlobalBool("debug") {
		settings.Debug = true
	}
	e.settings = settings

	e.log = logrus.New()
	e.log.SetOutput(e.cfg.Stderr)
	e.log.SetLevel(logrus.WarnLevel)
	if settings.Debug {
		e.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func (e *env) close() error {
	if e.client != nil {
		e.client.Close()
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func (e *env) getEngine() (crypto.Engine, error) {
	if e.engine != nil {
		return e.engine, nil
	}
	cfg := crypto.DefaultConfig()
	cfg.Suite = e.settings.Suite
	engine, err := crypto.New(cfg)
	if err != nil {
		return nil, err
	}
	e.engine = engine
	return engine, nil
}

func (e *env) getDB() (*store.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	if err := os.MkdirAll(e.settings.Root, 0700); err != nil {
		return nil, err
	}
	db, err := store.Open(store.Config{
		Path:       e.settings.StorePath(),
		Logger:     e.log,
		SyncWrites: true,
	})
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

func (e *env) loadIdentity() (*courier.OwnEndpoint, error) {
	engine, err := e.getEngine()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(e.settings.IdentityPath())
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no identity at %s, run keygen first", e.settings.IdentityPath())
	}
	if err != nil {
		return nil, err
	}
	return courier.UnmarshalOwnEndpoint(engine, data)
}

func (e *env) saveIdentity(id *courier.OwnEndpoint) error {
	data, err := id.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.settings.Root, 0700); err != nil {
		return err
	}
	return os.WriteFile(e.settings.IdentityPath(), data, 0600)
}

// getBook returns the configured address book: DynamoDB when a table is
// set, the local database otherwise.
func (e *env) getBook() (*addressbook.AddressBook, error) {
	engine, err := e.getEngine()
	if err != nil {
		return nil, err
	}
	var s addressbook.Store
	if e.settings.BookTable != "" {
		s, err = newDynamoStore(e.settings)
	} else {
		s, err = e.getDB()
	}
	if err != nil {
		return nil, err
	}
	return addressbook.New(s, engine, addressbook.WithLogger(e.log)), nil
}

// getClient opens the client with the address book as resolver and
// restores every stored inbox. Messages are saved by the receive command's
// handler rather than a client MessageStore, so the background watcher never
// consumes notifications behind the command's back.
func (e *env) getClient(ctx context.Context) (*courier.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	id, err := e.loadIdentity()
	if err != nil {
		return nil, err
	}
	db, err := e.getDB()
	if err != nil {
		return nil, err
	}
	book, err := e.getBook()
	if err != nil {
		return nil, err
	}

	opts := []courier.Option{
		courier.WithEngine(e.engine),
		courier.WithLogger(e.log),
		courier.WithResolver(book),
	}
	if e.settings.RelayURL != "" {
		opts = append(opts, courier.WithRelayURL(e.settings.RelayURL))
	}
	if len(e.settings.AllowedHosts) > 0 {
		opts = append(opts, courier.WithAllowedRelayHosts(e.settings.AllowedHosts...))
	}
	client, err := courier.New(id, opts...)
	if err != nil {
		return nil, err
	}
	e.client = client

	inboxes, err := db.LoadInboxes(ctx)
	if err != nil {
		return nil, err
	}
	for _, data := range inboxes {
		if _, err := client.ImportInbox(ctx, data); err != nil {
			e.log.WithFields(logrus.Fields{
				"inbox": data.ReceiveEndpoint,
				"error": err,
			}).Warn("skipping stored inbox")
		}
	}
	return client, nil
}
