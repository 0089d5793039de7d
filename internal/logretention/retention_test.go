package logretention

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLog struct {
	lines [][]byte
	err   error
}

func (m *memLog) Compact(keep func([]byte) bool) (int, int, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	var out [][]byte
	removed := 0
	for _, l := range m.lines {
		if keep(l) {
			out = append(out, l)
		} else {
			removed++
		}
	}
	m.lines = out
	return len(out), removed, nil
}

func TestKeepSince(t *testing.T) {
	t.Parallel()
	cutoff := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	keep := KeepSince(cutoff)
	cases := []struct {
		line string
		want bool
	}{
		{`{"level":"info","time":"2025-05-09T23:59:59.999Z","message":"old"}`, false},
		{`{"level":"info","time":"2025-05-10T00:00:00.000Z","message":"edge"}`, true},
		{`{"level":"info","time":"2025-05-10T03:00:00.000+03:00","message":"same instant as cutoff"}`, true},
		{`{"level":"info","time":"2025-05-10T02:59:59.000+03:00","message":"older in utc"}`, false},
		{`{"level":"info","message":"no time"}`, true},
		{`{"time":"yesterday"}`, true},
		{`plain text line`, true},
		{`{"time":"2025-05-01T10:00:00.000Z"`, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, keep([]byte(tc.line)), tc.line)
	}
}

func TestRunOnceUsesDaysToKeep(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 5, 17, 0, 0, 0, 0, time.UTC))
	target := &memLog{lines: [][]byte{
		[]byte(`{"time":"2025-05-01T10:00:00.000Z","message":"drop"}`),
		[]byte(`{"time":"2025-05-10T10:00:00.000Z","message":"keep"}`),
		[]byte(`garbage`),
	}}
	job, err := New(Config{DaysToKeep: 7}, target, mock, logx.Nop())
	require.NoError(t, err)

	res, err := job.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), res.Cutoff)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, 1, res.Removed)
	assert.True(t, bytes.Contains(target.lines[0], []byte("keep")))
}

func TestRunOnceWithoutFileIsQuiet(t *testing.T) {
	t.Parallel()
	job, err := New(Config{}, &memLog{err: logx.ErrNoFile}, nil, logx.Nop())
	require.NoError(t, err)
	_, err = job.RunOnce()
	assert.NoError(t, err)

	boom := errors.New("disk")
	job, err = New(Config{}, &memLog{err: boom}, nil, logx.Nop())
	require.NoError(t, err)
	_, err = job.RunOnce()
	assert.ErrorIs(t, err, boom)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Schedule: "every day"}, &memLog{}, nil, logx.Nop())
	require.Error(t, err)

	job, err := New(Config{Schedule: "30 3 * * *"}, &memLog{}, nil, logx.Nop())
	require.NoError(t, err)
	job.Start()
	job.Start()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, job.Stop(ctx))
	require.NoError(t, job.Stop(ctx))
}
