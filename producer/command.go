// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const outputTail = 4096

// CommandConfig describes an external load generator, e.g.
// `npm run producer -- --count N` run from the project directory.
type CommandConfig struct {
	Command   string
	Args      []string
	CountFlag string // flag preceding the count; empty passes the count positionally
	Dir       string
	WaitDelay time.Duration
}

// Command runs an external load generator process.
type Command struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommand creates a command producer.
func NewCommand(cfg CommandConfig, logger *slog.Logger) *Command {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	return &Command{cfg: cfg, logger: logger}
}

// Args returns the full argument list for count messages.
func (c *Command) Args(count int64) []string {
	args := append([]string{}, c.cfg.Args...)
	if c.cfg.CountFlag != "" {
		args = append(args, c.cfg.CountFlag)
	}
	return append(args, strconv.FormatInt(count, 10))
}

// Run starts the process and waits for it to exit. Output is captured but not
// interpreted; the exit status decides the result.
func (c *Command) Run(ctx context.Context, count int64) Result {
	start := time.Now()
	out := &tailBuffer{limit: outputTail}

	cmd := exec.CommandContext(ctx, c.cfg.Command, c.Args(count)...)
	cmd.Dir = c.cfg.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = c.cfg.WaitDelay

	c.logger.Info("starting producer",
		slog.String("command", c.cfg.Command),
		slog.Any("args", cmd.Args[1:]),
		slog.String("dir", c.cfg.Dir))

	err := cmd.Run()
	res := Result{
		Status:   StatusSucceeded,
		ExitCode: -1,
		Err:      err,
		Duration: time.Since(start),
		Output:   out.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if st, interrupted := statusFromContext(ctx); interrupted {
		res.Status = st
	} else if err != nil {
		res.Status = StatusFailed
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
		}
	}

	c.logger.Info("producer exited",
		slog.String("status", res.String()),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration))
	if res.Output != "" {
		c.logger.Debug("producer output", slog.String("tail", res.Output))
	}
	return res
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
