package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/model"
)

const (
	// DefaultMaxIterations bounds parser loop passes so a hostile feed of
	// millions of tiny lines or chunks cannot spin the refresher.
	DefaultMaxIterations = 10000
	// DefaultMaxParseTime bounds total wall-clock time per parse.
	DefaultMaxParseTime = 30 * time.Second
)

// ParseResult is the full outcome of parsing one feed.
type ParseResult struct {
	Success      bool
	EventCount   int
	Events       []model.Event
	Components   []*ical.Component
	Warnings     []string
	ErrorMessage string
	Metadata     model.CalendarMetadata
	SourceURL    string
}

// Parser consumes a chunked ICS byte stream and emits normalized events.
// Both DoS bounds are checked on every loop pass: the iteration ceiling
// catches streams made of many tiny pieces, the wall-clock ceiling catches
// streams that trickle.
type Parser struct {
	maxIterations int
	maxParseTime  time.Duration
	clock         clockwork.Clock
	logger        zerolog.Logger
}

func NewParser(cfg config.ParserConfig, clock clockwork.Clock, logger zerolog.Logger) *Parser {
	p := &Parser{
		maxIterations: cfg.MaxIterations,
		maxParseTime:  cfg.MaxParseTime,
		clock:         clock,
		logger:        logger,
	}
	if p.maxIterations <= 0 {
		p.maxIterations = DefaultMaxIterations
	}
	if p.maxParseTime <= 0 {
		p.maxParseTime = DefaultMaxParseTime
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	return p
}

// parseState tracks the component stack and logical-line accumulator while
// the stream is consumed.
type parseState struct {
	buf     bytes.Buffer // undecoded bytes carried across chunks
	logical string       // unfolded logical line under construction
	haveLog bool

	stack    []*ical.Component
	events   []*ical.Component
	metadata model.CalendarMetadata
	sawData  bool
	warnings []string
}

// Parse reads src to completion and returns the parse outcome. It never
// returns a Go error: failures are reported on the result so the refresher
// can treat a bad source like any other degraded source.
func (p *Parser) Parse(ctx context.Context, src ChunkSource, sourceURL string) *ParseResult {
	res := &ParseResult{SourceURL: sourceURL}
	st := &parseState{}
	start := p.clock.Now()
	iterations := 0

	bound := func() bool {
		iterations++
		if iterations > p.maxIterations {
			res.ErrorMessage = fmt.Sprintf("iteration limit exceeded (%d)", p.maxIterations)
			p.logger.Error().
				Str("tag", "SECURITY").
				Str("source_url", sourceURL).
				Int("iterations", iterations).
				Msg("ics parser iteration limit exceeded")
			return false
		}
		if elapsed := p.clock.Since(start); elapsed > p.maxParseTime {
			res.ErrorMessage = fmt.Sprintf("timeout exceeded (%s)", p.maxParseTime)
			p.logger.Error().
				Str("tag", "SECURITY").
				Str("source_url", sourceURL).
				Dur("elapsed", elapsed).
				Msg("ics parser timeout exceeded")
			return false
		}
		return true
	}

	for {
		if !bound() {
			return res
		}
		chunk, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			res.ErrorMessage = fmt.Sprintf("read error: %v", err)
			return res
		}
		if len(chunk) == 0 {
			// Empty chunks are tolerated; the wall clock still runs.
			continue
		}
		st.buf.Write(chunk)

		for {
			line, ok := nextPhysicalLine(&st.buf)
			if !ok {
				break
			}
			if !bound() {
				return res
			}
			if err := p.consumeLine(st, line, true); err != nil {
				res.ErrorMessage = err.Error()
				return res
			}
		}
	}

	// Flush the trailing partial line and the pending logical line.
	if st.buf.Len() > 0 {
		if err := p.consumeLine(st, st.buf.Bytes(), true); err != nil {
			res.ErrorMessage = err.Error()
			return res
		}
	}
	if err := p.consumeLine(st, nil, false); err != nil {
		res.ErrorMessage = err.Error()
		return res
	}

	if !st.sawData {
		res.ErrorMessage = "Empty content"
		return res
	}
	if len(st.stack) > 0 {
		res.ErrorMessage = fmt.Sprintf("malformed calendar: unterminated %s", st.stack[len(st.stack)-1].Name)
		return res
	}

	res.Warnings = st.warnings
	res.Metadata = st.metadata
	res.Components = st.events
	for _, comp := range st.events {
		ev, warns, err := EventFromComponent(comp, sourceURL, st.metadata.Timezone)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("skipping event: %v", err))
			continue
		}
		res.Events = append(res.Events, ev)
	}
	res.EventCount = len(res.Events)
	res.Success = true
	return res
}

// consumeLine feeds one physical line into the unfolder. A continuation line
// (leading space or tab, RFC 5545 §3.1) extends the pending logical line;
// anything else completes it. Passing more=false flushes the pending line at
// end of stream.
func (p *Parser) consumeLine(st *parseState, raw []byte, more bool) error {
	if more {
		line := decodeLenient(raw)
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if st.haveLog {
				st.logical += line[1:]
				return nil
			}
			// Continuation with nothing to continue: treat as a fresh line.
			line = line[1:]
		}
		prev := st.logical
		had := st.haveLog
		st.logical = line
		st.haveLog = true
		if had {
			return p.handleLogicalLine(st, prev)
		}
		return nil
	}
	if st.haveLog {
		st.haveLog = false
		return p.handleLogicalLine(st, st.logical)
	}
	return nil
}

func (p *Parser) handleLogicalLine(st *parseState, line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	st.sawData = true

	prop, err := parseContentLine(trimmed)
	if err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("bad content line: %v", err))
		return nil
	}

	switch prop.Name {
	case "BEGIN":
		comp := &ical.Component{Name: strings.ToUpper(prop.Value), Props: make(ical.Props)}
		st.stack = append(st.stack, comp)
		return nil
	case "END":
		name := strings.ToUpper(prop.Value)
		if len(st.stack) == 0 || st.stack[len(st.stack)-1].Name != name {
			return fmt.Errorf("malformed calendar: unexpected END:%s", name)
		}
		comp := st.stack[len(st.stack)-1]
		st.stack = st.stack[:len(st.stack)-1]
		if len(st.stack) > 0 {
			parent := st.stack[len(st.stack)-1]
			parent.Children = append(parent.Children, comp)
		}
		switch comp.Name {
		case ical.CompEvent:
			if len(st.stack) <= 1 {
				st.events = append(st.events, comp)
			}
		case ical.CompTimezone:
			if st.metadata.Timezone == "" {
				if tzid := comp.Props.Get(ical.PropTimezoneID); tzid != nil {
					st.metadata.Timezone = tzid.Value
				}
			}
		}
		return nil
	}

	if len(st.stack) == 0 {
		// Property outside any component; ignore with a warning.
		st.warnings = append(st.warnings, fmt.Sprintf("property %s outside component", prop.Name))
		return nil
	}
	top := st.stack[len(st.stack)-1]
	top.Props.Add(prop)

	if top.Name == ical.CompCalendar {
		switch prop.Name {
		case "X-WR-CALNAME":
			st.metadata.Name = prop.Value
		case "X-WR-CALDESC":
			st.metadata.Description = prop.Value
		case "X-WR-TIMEZONE":
			st.metadata.Timezone = prop.Value
		case ical.PropProductID:
			st.metadata.ProdID = prop.Value
		}
	}
	return nil
}

// nextPhysicalLine pops one newline-terminated line from buf. Splitting
// happens on raw bytes so a multi-byte rune straddling a chunk boundary is
// reassembled before any decoding.
func nextPhysicalLine(buf *bytes.Buffer) ([]byte, bool) {
	data := buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, data[:idx])
	buf.Next(idx + 1)
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, true
}

// decodeLenient converts raw bytes to a string, replacing invalid UTF-8
// sequences with U+FFFD so one corrupted property cannot poison the rest of
// the feed.
func decodeLenient(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}

// parseContentLine splits NAME;PARAM=VALUE;PARAM="QUOTED":VALUE into an
// ical.Prop. Colons and semicolons inside double quotes are literal.
func parseContentLine(line string) (*ical.Prop, error) {
	var (
		nameEnd  = -1
		valueSep = -1
		inQuotes bool
	)
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes && nameEnd < 0 {
				nameEnd = i
			}
		case ':':
			if !inQuotes {
				if nameEnd < 0 {
					nameEnd = i
				}
				valueSep = i
			}
		}
		if valueSep >= 0 {
			break
		}
	}
	if valueSep < 0 {
		return nil, fmt.Errorf("no value separator in %q", clip(line, 40))
	}
	name := strings.ToUpper(strings.TrimSpace(line[:nameEnd]))
	if name == "" {
		return nil, fmt.Errorf("empty property name")
	}

	prop := ical.NewProp(name)
	prop.Value = line[valueSep+1:]

	if nameEnd < valueSep {
		if err := parseParams(prop, line[nameEnd+1:valueSep]); err != nil {
			return nil, err
		}
	}
	return prop, nil
}

func parseParams(prop *ical.Prop, raw string) error {
	for _, part := range splitUnquoted(raw, ';') {
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return fmt.Errorf("malformed parameter %q", clip(part, 20))
		}
		key := strings.ToUpper(strings.TrimSpace(part[:eq]))
		for _, val := range splitUnquoted(part[eq+1:], ',') {
			prop.Params.Add(key, strings.Trim(val, `"`))
		}
	}
	return nil
}

func splitUnquoted(s string, sep byte) []string {
	var (
		out      []string
		start    int
		inQuotes bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
