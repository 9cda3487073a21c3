// Package syncq keeps writes that could not reach the server so the CLI can
// replay them later with their original idempotency keys.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Op             string    `json:"op"`
	TypeID         string    `json:"type_id"`
	Tier           string    `json:"tier,omitempty"`
	MaxCost        int64     `json:"max_cost,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	QueuedAt       time.Time `json:"-"`
}

// stored adds fields that are kept on disk but not sent to the server.
type stored struct {
	Command
	QueuedAt time.Time `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tyc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
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
	var rows []stored
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]Command, 0, len(rows))
	for _, r := range rows {
		cmd := r.Command
		cmd.QueuedAt = r.QueuedAt
		out = append(out, cmd)
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	rows := make([]stored, 0, len(commands))
	for _, c := range commands {
		rows = append(rows, stored{Command: c, QueuedAt: c.QueuedAt})
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push appends cmd, skipping it when its idempotency key is already queued.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	for _, c := range commands {
		if c.IdempotencyKey == cmd.IdempotencyKey {
			return nil
		}
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}
