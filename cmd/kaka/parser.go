// Request parsing for the RESP subset a server receives.
//
// Clients send either a RESP array of bulk strings
//
//	*2\r\n$10\r\nURL.EXISTS\r\n$19\r\nhttps://example.com\r\n
//
// or an inline command, one space-separated line, as typed into netcat:
//
//	URL.EXISTS https://example.com
//
// Content bodies for URL.ADD and SIM.* must use the array form, since inline
// arguments cannot carry spaces.
//
// Limits
// ======
//
// Three allocations are bounded before they happen: bulk length, array
// length and line length. A client that announces more gets a protocol error
// and is disconnected.

package main

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// MaxBulkLength caps a single argument. Page bodies are the largest thing
	// clients send.
	MaxBulkLength = 64 * 1024 * 1024

	// MaxArrayLen caps arguments per command (URL.MADD batches).
	MaxArrayLen = 1 << 20

	// MaxLineSize caps headers and inline commands.
	MaxLineSize = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 64MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

type Parser struct {
	reader *bufio.Reader
}

func NewParser(r io.Reader) *Parser {
	return &Parser{reader: bufio.NewReaderSize(r, 4096)}
}

// Parse reads one command. An empty array yields an empty, non-nil slice.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}
	if line[0] == '*' {
		return p.array(line)
	}
	return p.inline(line)
}

// Buffered reports unread bytes. Zero means the client is waiting on us and
// the response buffer should be flushed.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !isPrefix {
		return line, nil
	}

	var buf bytes.Buffer
	buf.Write(line)
	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

func (p *Parser) inline(line []byte) ([]string, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, ErrInvalidSyntax
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out, nil
}

func (p *Parser) array(header []byte) ([]string, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(header[1:])))
	if err != nil {
		return nil, ErrInvalidSyntax
	}
	if n <= 0 {
		return []string{}, nil
	}
	if n > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := p.bulk()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// bulk reads $<len>\r\n<data>\r\n. A null bulk ($-1) reads as "".
func (p *Parser) bulk() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return "", ErrInvalidSyntax
	}
	switch {
	case n == -1:
		return "", nil
	case n < 0:
		return "", ErrInvalidSyntax
	case n > MaxBulkLength:
		return "", ErrBulkTooLarge
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:n]), nil
}
