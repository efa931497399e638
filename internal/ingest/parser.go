package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Parser reads newline-delimited Singer messages. Lines are read on a background
// goroutine so a cancelled context unblocks ReadMessage even on idle input.
type Parser struct {
	file   *os.File
	reader *bufio.Reader
	lineNo int64

	startOnce sync.Once
	closeOnce sync.Once
	lines     chan lineResult
	done      chan struct{}
	readErr   error // sticky once the reader stopped
}

type lineResult struct {
	line []byte
	err  error
}

// NewParser creates a parser over r. The caller owns r.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 1<<20),
		lines:  make(chan lineResult),
		done:   make(chan struct{}),
	}
}

// OpenParser opens the file at path and creates a parser over it
func OpenParser(path string) (*Parser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	p := NewParser(file)
	p.file = file
	return p, nil
}

// Close stops the background reader and closes the input file if the parser opened it
func (p *Parser) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// readLines feeds p.lines until the input ends or the parser is closed
func (p *Parser) readLines() {
	for {
		line, err := p.reader.ReadBytes('\n')
		select {
		case p.lines <- lineResult{line: line, err: err}:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadMessage reads the next message. Blank lines are skipped; io.EOF marks the end of input.
// Numbers in records are kept as json.Number.
func (p *Parser) ReadMessage(ctx context.Context) (*Message, error) {
	p.startOnce.Do(func() { go p.readLines() })

	for {
		if p.readErr != nil {
			return nil, p.readErr
		}

		var res lineResult
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-p.lines:
		}

		line, err := res.line, res.err
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.readErr = io.EOF
			} else {
				p.readErr = fmt.Errorf("read input: %w", err)
			}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		p.lineNo++

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("line %d: invalid message: %w", p.lineNo, err)
		}
		if msg.Type == "" {
			return nil, fmt.Errorf("line %d: message has no type", p.lineNo)
		}
		return &msg, nil
	}
}

// GetLineNo returns the number of non-blank lines read so far
func (p *Parser) GetLineNo() int64 {
	return p.lineNo
}
