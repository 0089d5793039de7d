// Package timeexpr turns relaxed Russian time phrases into delivery offsets.
//
// Supported forms (case-insensitive):
//   - "через N минут", "через N час/часа/часов": N minutes or hours from now
//   - "в H:MM", "в HH:MM": next occurrence of that wall-clock time
package timeexpr

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrNotRecognized is wrapped by every ParseError.
var ErrNotRecognized = errors.New("time expression not recognized")

// MaxOffset caps relative phrases.
const MaxOffset = 365 * 24 * time.Hour

type Kind int

const (
	Relative Kind = iota + 1
	Absolute
)

func (k Kind) String() string {
	switch k {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// Offset is a parsed phrase: the delay from the parser's "now".
type Offset struct {
	Kind     Kind
	Duration time.Duration
}

type ParseError struct {
	Phrase string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return "time expression not recognized: " + strconv.Quote(e.Phrase)
	}
	return "time expression not recognized: " + strconv.Quote(e.Phrase) + ": " + e.Reason
}

func (e *ParseError) Unwrap() error { return ErrNotRecognized }

var (
	reRelative = regexp.MustCompile(`(?i)^через\s+(\d+)\s+(минут[а-яё]*|час[а-яё]*)$`)
	reAbsolute = regexp.MustCompile(`(?i)^в\s+(\d{1,2}):(\d{2})$`)

	// Leading phrase followed by whitespace or end of input; (?s) lets the text span lines.
	reLeadRelative = regexp.MustCompile(`(?is)^\s*(через\s+\d+\s+(?:минут[а-яё]*|час[а-яё]*))(?:\s+(.*))?$`)
	reLeadAbsolute = regexp.MustCompile(`(?is)^\s*(в\s+\d{1,2}:\d{2})(?:\s+(.*))?$`)
)

// Parser resolves phrases against a clock.
type Parser struct {
	clk clock.Clock
}

// New returns a parser; a nil clock means the wall clock.
func New(clk clock.Clock) *Parser {
	if clk == nil {
		clk = clock.New()
	}
	return &Parser{clk: clk}
}

// Parse interprets one exact phrase.
func (p *Parser) Parse(phrase string) (Offset, error) {
	s := strings.TrimSpace(phrase)
	if m := reRelative.FindStringSubmatch(s); m != nil {
		return parseRelative(phrase, m[1], m[2])
	}
	if m := reAbsolute.FindStringSubmatch(s); m != nil {
		return p.parseAbsolute(phrase, m[1], m[2])
	}
	return Offset{}, &ParseError{Phrase: phrase}
}

// Split separates a leading phrase from the rest of input.
// ok is false when input does not start with something phrase-shaped;
// the phrase itself may still fail Parse (for example "в 25:00").
func (p *Parser) Split(input string) (phrase, rest string, ok bool) {
	for _, re := range []*regexp.Regexp{reLeadRelative, reLeadAbsolute} {
		if m := re.FindStringSubmatch(input); m != nil {
			return m[1], strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// Resolve returns now + o.Duration.
func (p *Parser) Resolve(o Offset) time.Time {
	return p.clk.Now().Add(o.Duration)
}

// Now exposes the parser's clock reading.
func (p *Parser) Now() time.Time { return p.clk.Now() }

func parseRelative(phrase, num, unit string) (Offset, error) {
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return Offset{}, &ParseError{Phrase: phrase, Reason: "amount must be a positive integer"}
	}
	step := time.Minute
	if strings.HasPrefix(strings.ToLower(unit), "час") {
		step = time.Hour
	}
	if n > int64(MaxOffset/step) {
		return Offset{}, &ParseError{Phrase: phrase, Reason: "more than a year ahead"}
	}
	return Offset{Kind: Relative, Duration: time.Duration(n) * step}, nil
}

func (p *Parser) parseAbsolute(phrase, hh, mm string) (Offset, error) {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Offset{}, &ParseError{Phrase: phrase, Reason: "clock time out of range"}
	}
	now := p.clk.Now()
	target := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return Offset{Kind: Absolute, Duration: target.Sub(now)}, nil
}
