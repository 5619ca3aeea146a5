package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli"

	"github.com/courierproto/client-go/addressbook"
	"github.com/courierproto/client-go/relayserver"
)

const shutdownTimeout = 10 * time.Second

func newDynamoStore(s *Settings) (*addressbook.DynamoStore, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	store := addressbook.NewDynamoStore(sess, addressbook.DynamoParams{
		RegionName:     s.BookRegion,
		LocalDynamoURL: s.BookLocalURL,
		TableName:      s.BookTable,
	})
	if s.BookLocalURL != "" {
		if err := store.CreateTable(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// newRelay builds the relay from settings. The returned cleanup closes the
// redis connection, if any.
func (e *env) newRelay() (*relayserver.Server, func(), error) {
	cfg := relayserver.Config{
		BaseURL:       e.settings.BaseURL,
		MaxLifetime:   e.settings.MaxLifetime,
		InboxLifetime: e.settings.InboxLifetime,
		Logger:        e.log,
	}
	cleanup := func() {}
	if e.settings.RedisURL != "" {
		rc, err := relayserver.DialRedis(e.settings.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		cfg.Blobs = relayserver.NewRedisBlobStore(rc, "")
		cleanup = func() { rc.Close() }
	}
	return relayserver.New(cfg), cleanup, nil
}

func (e *env) relayServe(c *cli.Context) error {
	if v := c.String("listen"); v != "" {
		e.settings.Listen = v
	}
	if v := c.String("base-url"); v != "" {
		e.settings.BaseURL = v
	}
	if v := c.String("redis"); v != "" {
		e.settings.RedisURL = v
	}

	relay, cleanup, err := e.newRelay()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if e.settings.SweepInterval > 0 {
		go relay.RunSweeper(ctx, e.settings.SweepInterval)
	}

	srv := &http.Server{
		Addr:              e.settings.Listen,
		Handler:           relay,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	e.log.WithField("addr", e.settings.Listen).Info("relay listening")
	fmt.Fprintf(e.cfg.Stdout, "listening on %s\n", e.settings.Listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
