package client

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battprof/pkg/events"
	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/runner"
)

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ret, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ret), v)
}

func (c *Client) GetStatus(ctx context.Context) (*runner.Status, error) {
	var st runner.Status
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return &st, nil
}

func (c *Client) GetLUT(ctx context.Context) ([]lut.Entry, error) {
	var entries []lut.Entry
	if err := c.getJSON(ctx, "/lut", &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get LUT")
	}
	return entries, nil
}

// GetConfig returns the resolved configuration of the run as reported by
// the server.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	var conf map[string]any
	if err := c.getJSON(ctx, "/config", &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return conf, nil
}

func (c *Client) GetVersion(ctx context.Context) (*runner.VersionInfo, error) {
	var v runner.VersionInfo
	if err := c.getJSON(ctx, "/version", &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}
	return &v, nil
}

// Follow calls fn for every server-sent event until ctx is cancelled or
// the server ends the stream.
func (c *Client) Follow(ctx context.Context, fn func(events.Event)) error {
	resp, err := c.do(ctx, "/events")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to follow events")
	}
	defer resp.Body.Close()

	var ev events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = append(ev.Data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		case line == "":
			if ev.Name != "" {
				fn(ev)
			}
			ev = events.Event{}
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return pkgerrors.Wrap(sc.Err(), "event stream broken")
}
