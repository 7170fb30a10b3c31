package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/sidekick/pkg/client"
)

// remote runs commands against the control API of a running `sidekick run`.
type remote struct {
	out io.Writer
}

func (r remote) client(f RemoteFlags) (*client.Client, error) {
	u, err := apiURL(f.APIUrl, f.ConfigPath)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: u, Timeout: f.APITimeout}), nil
}

func (r remote) Status(ctx context.Context, f RemoteFlags) error {
	c, err := r.client(f)
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(r.out, st)
	return nil
}

func (r remote) Logs(ctx context.Context, f LogsFlags) error {
	c, err := r.client(f.RemoteFlags)
	if err != nil {
		return err
	}
	if f.JSON {
		entries, err := c.Logs(ctx, f.Tail)
		if err != nil {
			return err
		}
		printJSON(r.out, entries)
		return nil
	}
	txt, err := c.LogText(ctx, f.Tail)
	if err != nil {
		return err
	}
	_, _ = io.WriteString(r.out, txt)
	return nil
}

func (r remote) Kill(ctx context.Context, f RemoteFlags) error {
	c, err := r.client(f)
	if err != nil {
		return err
	}
	killed, err := c.Kill(ctx)
	if err != nil {
		return err
	}
	if killed {
		_, _ = fmt.Fprintln(r.out, "sidecar killed")
	} else {
		_, _ = fmt.Fprintln(r.out, "no sidecar owned")
	}
	return nil
}

func (r remote) Ensure(ctx context.Context, f EnsureFlags) error {
	c, err := r.client(f.RemoteFlags)
	if err != nil {
		return err
	}
	if err := c.Ensure(ctx, f.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(r.out, "ready")
	return nil
}

func (r remote) InstallCLI(ctx context.Context, f RemoteFlags) (string, error) {
	c, err := r.client(f)
	if err != nil {
		return "", err
	}
	return c.InstallCLI(ctx)
}

func (r remote) SyncCLI(ctx context.Context, f RemoteFlags) (string, error) {
	c, err := r.client(f)
	if err != nil {
		return "", err
	}
	return c.SyncCLI(ctx)
}
