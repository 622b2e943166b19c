package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gtzirun/cloud/internal/streamkey"
	"github.com/gtzirun/cloud/pkg/client"
)

// command runs CLI operations against a daemon.
type command struct {
	api *client.Client
	out io.Writer
}

func newCommand(cmd *cobra.Command, f APIFlags) (command, error) {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout}
	if f.CACert != "" {
		tlsCfg, err := client.TLSWithCA(f.CACert)
		if err != nil {
			return command{}, err
		}
		cfg.TLS = tlsCfg
	}
	return command{api: client.New(cfg), out: cmd.OutOrStdout()}, nil
}

func (c command) Create(ctx context.Context, clientID string) error {
	st, err := c.api.CreateStream(ctx, clientID)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return c.printJSON(st)
}

func (c command) Configure(ctx context.Context, key, dest string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := c.api.ConfigureDestination(ctx, key, dest); err != nil {
		return fmt.Errorf("configure %s: %w", key, err)
	}
	_, _ = fmt.Fprintf(c.out, "destination of %s configured\n", key)
	return nil
}

func (c command) Start(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := c.api.StartStream(ctx, key); err != nil {
		return fmt.Errorf("start %s: %w", key, err)
	}
	_, _ = fmt.Fprintf(c.out, "relay for %s started\n", key)
	return nil
}

func (c command) Stop(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := c.api.StopStream(ctx, key); err != nil {
		return fmt.Errorf("stop %s: %w", key, err)
	}
	_, _ = fmt.Fprintf(c.out, "relay for %s stopped\n", key)
	return nil
}

func (c command) Status(ctx context.Context, key string) error {
	if key != "" {
		if err := checkKey(key); err != nil {
			return err
		}
		st, err := c.api.Status(ctx, key)
		if err != nil {
			return fmt.Errorf("status %s: %w", key, err)
		}
		return c.printJSON(st)
	}
	list, err := c.api.List(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	return c.printJSON(list)
}

// checkKey rejects keys relayd cannot have issued before any request is sent.
func checkKey(key string) error {
	if !streamkey.Valid(key) {
		return fmt.Errorf("malformed stream key %q: %w", key, client.ErrNotFound)
	}
	return nil
}

func (c command) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
