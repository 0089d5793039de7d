// Package logretention drops old lines from the log file on a cron schedule.
//
// Lines are JSON objects written by pkg/logx. A line is removed only when its
// "time" field parses and is older than the retention window; anything else
// (console noise, torn writes, foreign lines) is kept.
package logretention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Compactor rewrites a log file keeping the lines keep accepts.
// *logx.Service implements it.
type Compactor interface {
	Compact(keep func(line []byte) bool) (kept, removed int, err error)
}

type Config struct {
	Schedule   string // cron spec or descriptor; "" means "@midnight"
	DaysToKeep int    // <= 0: 7
}

type Result struct {
	Cutoff  time.Time
	Kept    int
	Removed int
}

type Job struct {
	cfg    Config
	sched  cron.Schedule
	target Compactor
	clk    clock.Clock
	log    logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, target Compactor, clk clock.Clock, log logx.Logger) (*Job, error) {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@midnight"
	}
	if cfg.DaysToKeep <= 0 {
		cfg.DaysToKeep = 7
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("log retention schedule %q: %w", cfg.Schedule, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, sched: sched, target: target, clk: clk, log: log}, nil
}

// Start begins triggering. It is a no-op when already started.
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return
	}
	cl := cronLogger{log: j.log}
	j.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	j.c.Schedule(j.sched, cron.FuncJob(func() { _, _ = j.RunOnce() }))
	j.c.Start()

	next := j.sched.Next(time.Now())
	j.log.Info("log retention scheduled",
		logx.String("schedule", j.cfg.Schedule),
		logx.Int("days_to_keep", j.cfg.DaysToKeep),
		logx.Time("next", next),
	)
}

// Stop stops triggering and waits for a running pass until ctx is done.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce prunes lines older than DaysToKeep days.
func (j *Job) RunOnce() (Result, error) {
	res := Result{Cutoff: j.clk.Now().AddDate(0, 0, -j.cfg.DaysToKeep)}
	kept, removed, err := j.target.Compact(KeepSince(res.Cutoff))
	res.Kept, res.Removed = kept, removed
	switch {
	case errors.Is(err, logx.ErrNoFile):
		j.log.Debug("log retention skipped: file logging disabled")
		return res, nil
	case err != nil:
		j.log.Error("log retention failed", logx.Err(err))
		return res, err
	}
	j.log.Info("log retention done",
		logx.Time("cutoff", res.Cutoff),
		logx.Int("kept", kept),
		logx.Int("removed", removed),
	)
	return res, nil
}

// KeepSince returns a filter accepting lines stamped at or after cutoff and
// every line without a readable timestamp.
func KeepSince(cutoff time.Time) func(line []byte) bool {
	return func(line []byte) bool {
		ts, ok := lineTime(line)
		return !ok || !ts.Before(cutoff)
	}
}

func lineTime(line []byte) (time.Time, bool) {
	var v struct {
		Time string `json:"time"`
	}
	if err := json.Unmarshal(line, &v); err != nil || v.Time == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{logx.TimeFormat, time.RFC3339Nano} {
		if ts, err := time.Parse(layout, v.Time); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// cronLogger routes robfig/cron's internal messages to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
