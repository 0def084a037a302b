// Package syncq keeps realm writes made while the API was unreachable and
// replays them later with `nxs sync`.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"nexus/internal/cli"
)

type Command struct {
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

// Dispatcher is the part of cli.Client the replay needs.
type Dispatcher interface {
	Action(ctx context.Context, accessToken, name string, payload, out any) error
}

func queuePath() (string, error) {
	dir, err := cli.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Unreachable is true when err shows the request never left this machine, so
// queueing it cannot apply a write twice.
func Unreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Result is one replayed command and what the API said about it.
type Result struct {
	Command Command
	Err     error
}

// Replay sends queued commands in order. Commands that are still unreachable
// stay queued; every other outcome, success or rejection, removes them.
func Replay(ctx context.Context, d Dispatcher, accessToken string, queue []Command) (results []Result, remaining []Command) {
	remaining = make([]Command, 0, len(queue))
	for i, q := range queue {
		err := d.Action(ctx, accessToken, q.Action, q.Payload, nil)
		if err != nil && Unreachable(err) {
			remaining = append(remaining, queue[i:]...)
			results = append(results, Result{Command: q, Err: err})
			return results, remaining
		}
		results = append(results, Result{Command: q, Err: err})
	}
	return results, remaining
}
