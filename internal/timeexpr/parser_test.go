package timeexpr

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockAt(t *testing.T, ts time.Time) *clock.Mock {
	t.Helper()
	m := clock.NewMock()
	m.Set(ts)
	return m
}

func TestParseRelative(t *testing.T) {
	t.Parallel()
	p := New(mockAt(t, time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)))

	cases := []struct {
		phrase string
		want   time.Duration
	}{
		{"через 1 минут", time.Minute},
		{"через 5 минут", 5 * time.Minute},
		{"через 60 минут", 60 * time.Minute},
		{"через 1 минуту", time.Minute},
		{"через 1 час", time.Hour},
		{"через 5 часов", 5 * time.Hour},
		{"через 60 часов", 60 * time.Hour},
		{"через 2 часа", 2 * time.Hour},
		{"ЧЕРЕЗ 3 МИНУТЫ", 3 * time.Minute},
		{"  через   10   минут  ", 10 * time.Minute},
	}
	for _, tc := range cases {
		o, err := p.Parse(tc.phrase)
		require.NoError(t, err, tc.phrase)
		assert.Equal(t, Relative, o.Kind, tc.phrase)
		assert.Equal(t, tc.want, o.Duration, tc.phrase)
	}
}

func TestParseAbsoluteUpcomingAndPassed(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 10, 10, 0, 0, 0, time.UTC)
	p := New(mockAt(t, now))

	up, err := p.Parse("в 11:00")
	require.NoError(t, err)
	assert.Equal(t, Absolute, up.Kind)
	assert.Equal(t, time.Hour, up.Duration)

	passed, err := p.Parse("в 9:00")
	require.NoError(t, err)
	// 09:00 today is one hour ago; tomorrow adds exactly a day.
	assert.Equal(t, -time.Hour+24*time.Hour, passed.Duration)

	equal, err := p.Parse("в 10:00")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, equal.Duration)

	assert.Equal(t, now.Add(time.Hour), p.Resolve(up))
}

func TestParseNotRecognized(t *testing.T) {
	t.Parallel()
	p := New(mockAt(t, time.Date(2025, 5, 10, 10, 0, 0, 0, time.UTC)))

	for _, phrase := range []string{
		"gibberish",
		"",
		"через минут",
		"через 0 минут",
		"через 5 дней",
		"через 99999999999999999999 минут",
		"через 9000 часов",
		"в 24:00",
		"в 12:60",
		"в 7",
		"at 10:00",
	} {
		_, err := p.Parse(phrase)
		require.Error(t, err, phrase)
		assert.True(t, errors.Is(err, ErrNotRecognized), phrase)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), phrase)
	}
}

func TestParseYearBoundary(t *testing.T) {
	t.Parallel()
	p := New(mockAt(t, time.Date(2025, 5, 10, 10, 0, 0, 0, time.UTC)))

	o, err := p.Parse("через 8760 часов")
	require.NoError(t, err)
	assert.Equal(t, MaxOffset, o.Duration)

	_, err = p.Parse("через 8761 часов")
	require.ErrorIs(t, err, ErrNotRecognized)
}

func TestSplit(t *testing.T) {
	t.Parallel()
	p := New(nil)

	cases := []struct {
		in     string
		phrase string
		rest   string
		ok     bool
	}{
		{"через 1 минут ping", "через 1 минут", "ping", true},
		{"через 2 часа купить хлеб", "через 2 часа", "купить хлеб", true},
		{"в 18:30 позвонить маме", "в 18:30", "позвонить маме", true},
		{"в 7:05 line1\nline2", "в 7:05", "line1\nline2", true},
		{"через 5 минут", "через 5 минут", "", true},
		{"в 25:00 x", "в 25:00", "x", true},
		{"ping через 5 минут", "", "", false},
		{"вечером", "", "", false},
		{"через 5 минутx", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		phrase, rest, ok := p.Split(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.phrase, phrase, tc.in)
		assert.Equal(t, tc.rest, rest, tc.in)
	}
}
