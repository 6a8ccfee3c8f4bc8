// Package parser splits script content into executable statements.
//
// The parser is a character state machine that looks one character ahead.
// Comments are dropped, quoted literals are copied verbatim and statements
// are ended by a semicolon, or, inside stored-procedure blocks, by the
// dialect's block terminator.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

// ErrUnterminatedStatement is returned when the content ends in the middle
// of a statement that has executable content.
var ErrUnterminatedStatement = errors.New("last statement in script was not ended correctly")

const (
	eof         = rune(-1)
	bom         = '\uFEFF'
	prefixLimit = 120
)

var placeholder = regexp.MustCompile(`\$\{([^${}]+)\}`)

type state uint8

const (
	normal state = iota
	lineComment
	blockCommentOpen
	blockComment
	blockCommentClose
	singleQuote
	doubleQuote
	escaping
	dollarTag
	dollarQuote
	dollarClose
	slashLine
)

type action uint8

const (
	skip action = iota
	keep
	separate
	terminate
	restore
)

// machine is the parser state. It is a plain value: step returns the next
// machine instead of mutating the receiver.
type machine struct {
	st      state
	ret     state
	tag     string
	pending string
	dialect *Dialect
}

func (m machine) to(st state) machine {
	m.st = st
	return m
}

func (m machine) escape(ret state) machine {
	m.st = escaping
	m.ret = ret
	return m
}

// step processes cur, with prev the previous character and next the
// lookahead (eof at the end of the content).
func (m machine) step(prev, cur, next rune, b *builder) (machine, action) {
	d := m.dialect
	switch m.st {
	case normal:
		switch {
		case cur == '-' && next == '-':
			return m.to(lineComment), skip
		case cur == '#' && d.HashComments:
			return m.to(lineComment), skip
		case cur == '/' && next == '*':
			return m.to(blockCommentOpen), skip
		case cur == '\'':
			return m.to(singleQuote), keep
		case cur == '"':
			return m.to(doubleQuote), keep
		case cur == '$' && d.DollarQuoting && !isIdent(prev) && (next == '$' || isIdentStart(next)):
			m.pending = "$"
			return m.to(dollarTag), keep
		case cur == ';':
			if !b.block {
				return m, terminate
			}
			if d.BlockEnd == EndKeyword && b.currentWord() == "END" {
				return m, terminate
			}
			return m, keep
		case cur == '/' && d.BlockEnd == SlashLine && b.lineBlank && (next == '\n' || next == eof):
			return m, terminate
		case cur == '/' && d.BlockEnd == SlashLine && b.lineBlank && isBlank(next):
			m.pending = "/"
			return m.to(slashLine), skip
		}
		return m, keep

	case lineComment:
		if cur == '\n' {
			return m.to(normal), keep
		}
		return m, skip

	case blockCommentOpen:
		return m.to(blockComment), skip

	case blockComment:
		if cur == '*' && next == '/' {
			return m.to(blockCommentClose), skip
		}
		return m, skip

	case blockCommentClose:
		return m.to(normal), separate

	case singleQuote, doubleQuote:
		quote := '\''
		if m.st == doubleQuote {
			quote = '"'
		}
		switch {
		case cur == '\\' && d.BackslashEscaping:
			return m.escape(m.st), keep
		case cur == quote && next == quote:
			return m.escape(m.st), keep
		case cur == quote:
			return m.to(normal), keep
		}
		return m, keep

	case escaping:
		return m.to(m.ret), keep

	case dollarTag:
		switch {
		case cur == '$':
			m.tag = m.pending + "$"
			m.pending = ""
			return m.to(dollarQuote), keep
		case isIdent(cur):
			m.pending += string(cur)
			return m, keep
		}
		// not a dollar quote after all, e.g. a positional parameter
		m.pending = ""
		return m.to(normal).step(prev, cur, next, b)

	case dollarQuote:
		if cur == '$' {
			m.pending = "$"
			return m.to(dollarClose), keep
		}
		return m, keep

	case slashLine:
		// only blanks may follow a terminating slash
		m.pending += string(cur)
		switch {
		case next == '\n' || next == eof:
			m.pending = ""
			return m.to(normal), terminate
		case isBlank(next):
			return m, skip
		}
		return m.to(normal), restore

	case dollarClose:
		m.pending += string(cur)
		switch {
		case m.pending == m.tag:
			m.pending = ""
			return m.to(normal), keep
		case strings.HasPrefix(m.tag, m.pending):
			return m, keep
		case cur == '$':
			m.pending = "$"
			return m, keep
		}
		m.pending = ""
		return m.to(dollarQuote), keep
	}
	return m, keep
}

func isBlank(r rune) bool {
	return r == ' ' || r == '\t'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// builder accumulates one statement.
type builder struct {
	sb         strings.Builder
	last       rune
	executable bool
	block      bool

	prefix     strings.Builder
	prefixDone bool
	word       strings.Builder
	lastWord   string

	lineBlank bool
}

func (b *builder) write(r rune) {
	b.sb.WriteRune(r)
	b.last = r
	if !unicode.IsSpace(r) {
		b.executable = true
	}
}

func (b *builder) separate() {
	if b.sb.Len() > 0 && !unicode.IsSpace(b.last) {
		b.write(' ')
	}
}

// code records a character that is outside literals and comments, feeding
// the block detection and the END keyword tracking.
func (b *builder) code(r rune, d *Dialect) {
	if isIdent(r) {
		b.word.WriteRune(unicode.ToUpper(r))
	} else if b.word.Len() > 0 {
		b.lastWord = b.word.String()
		b.word.Reset()
	}

	if b.prefixDone {
		return
	}
	if unicode.IsSpace(r) {
		if b.prefix.Len() == 0 || strings.HasSuffix(b.prefix.String(), " ") {
			return
		}
		b.prefix.WriteByte(' ')
		if d.BlockStart != nil && d.BlockStart(b.prefix.String()) {
			b.block = true
			b.prefixDone = true
		}
	} else {
		b.prefix.WriteRune(unicode.ToUpper(r))
	}
	if b.prefix.Len() > prefixLimit {
		b.prefixDone = true
	}
}

func (b *builder) currentWord() string {
	if b.word.Len() > 0 {
		return b.word.String()
	}
	return b.lastWord
}

func (b *builder) line(r rune) {
	switch {
	case r == '\n':
		b.lineBlank = true
	case !unicode.IsSpace(r):
		b.lineBlank = false
	}
}

// take returns the trimmed statement and resets the builder. ok is false
// when the statement has no executable content.
func (b *builder) take() (stmt string, ok bool) {
	stmt = strings.TrimSpace(b.sb.String())
	ok = b.executable && stmt != ""
	lineBlank := b.lineBlank
	*b = builder{lineBlank: lineBlank}
	return stmt, ok
}

// Parser reads statements from one script.
type Parser struct {
	r       *bufio.Reader
	dialect Dialect
	params  map[string]string

	m       machine
	b       builder
	prev    rune
	next    rune
	started bool
	err     error
}

// New creates a parser for the content of r.
func New(r io.Reader, dialect Dialect, params map[string]string) *Parser {
	p := &Parser{
		r:       bufio.NewReader(r),
		dialect: dialect,
		params:  params,
		prev:    '\n',
	}
	p.m = machine{st: normal, dialect: &p.dialect}
	p.b.lineBlank = true
	return p
}

// Next returns the next statement, or io.EOF once the content is exhausted.
func (p *Parser) Next() (string, error) {
	if p.err != nil {
		return "", p.err
	}
	for {
		cur, err := p.advance()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", p.finish()
			}
			p.err = fmt.Errorf("read script: %w", err)
			return "", p.err
		}

		before := p.m.st
		var act action
		p.m, act = p.m.step(p.prev, cur, p.next, &p.b)
		switch act {
		case keep:
			p.b.write(cur)
			if before == normal || before == lineComment {
				p.b.code(cur, &p.dialect)
			}
		case separate:
			p.b.separate()
			p.b.code(' ', &p.dialect)
		case restore:
			for _, r := range p.m.pending {
				p.b.write(r)
				p.b.code(r, &p.dialect)
			}
			p.m.pending = ""
		}
		p.b.line(cur)
		p.prev = cur

		if act == terminate {
			if stmt, ok := p.b.take(); ok {
				return p.substitute(stmt), nil
			}
		}
	}
}

// All drains the parser.
func (p *Parser) All() ([]string, error) {
	var out []string
	for {
		stmt, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, stmt)
	}
}

func (p *Parser) finish() error {
	if stmt, ok := p.b.take(); ok {
		if len(stmt) > 100 {
			stmt = stmt[:100] + "..."
		}
		p.err = fmt.Errorf("%w: %s", ErrUnterminatedStatement, stmt)
		return p.err
	}
	p.err = io.EOF
	return p.err
}

// advance moves the lookahead into cur and reads a new lookahead.
func (p *Parser) advance() (rune, error) {
	if !p.started {
		p.started = true
		first, err := p.read()
		if err != nil {
			return eof, err
		}
		if first == bom {
			if first, err = p.read(); err != nil {
				return eof, err
			}
		}
		p.next = first
	}
	cur := p.next
	if cur == eof {
		return eof, io.EOF
	}
	next, err := p.read()
	if err != nil {
		return eof, err
	}
	p.next = next
	return cur, nil
}

// read returns the next rune, dropping carriage returns.
func (p *Parser) read() (rune, error) {
	for {
		r, _, err := p.r.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return eof, nil
			}
			return eof, err
		}
		if r != '\r' {
			return r, nil
		}
	}
}

func (p *Parser) substitute(stmt string) string {
	if len(p.params) == 0 {
		return stmt
	}
	return placeholder.ReplaceAllStringFunc(stmt, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := p.params[name]; ok {
			return v
		}
		return m
	})
}
