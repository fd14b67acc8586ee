package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrBlockHeader is returned when a response does not start with a valid IEEE
// 488.2 block header.
var ErrBlockHeader = errors.New("invalid block header")

// ReadBlock reads an IEEE 488.2 arbitrary block from r.
//
// A definite-length block is '#', one digit n, n digits of length, then the
// data bytes. An indefinite block ("#0") runs to the next newline. Line
// terminators already buffered after the block are discarded.
func ReadBlock(r *bufio.Reader) ([]byte, error) {
	if err := skipTerminators(r); err != nil {
		return nil, err
	}
	hash, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hash != '#' {
		return nil, fmt.Errorf("%w: want '#' got %q", ErrBlockHeader, hash)
	}
	d, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if d < '0' || d > '9' {
		return nil, fmt.Errorf("%w: bad digit count %q", ErrBlockHeader, d)
	}

	if d == '0' {
		line, err := r.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return nil, err
		}
		return trimLine(line), nil
	}

	digits := make([]byte, int(d-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, fmt.Errorf("%w: reading length: %s", ErrBlockHeader, err)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad length %q", ErrBlockHeader, digits)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("short block: want %d bytes: %w", n, err)
	}
	DiscardTerminators(r)
	return data, nil
}

// DiscardTerminators drops CR and LF bytes already buffered in r. It never
// blocks waiting for more input.
func DiscardTerminators(r *bufio.Reader) {
	for r.Buffered() > 0 {
		b, err := r.Peek(1)
		if err != nil || (b[0] != '\n' && b[0] != '\r') {
			return
		}
		_, _ = r.ReadByte()
	}
}

// ReadLine reads one non-empty response line from r, without its terminator.
// Blank lines left over from a previous response are skipped.
func ReadLine(r *bufio.Reader, term byte) (string, error) {
	for {
		line, err := r.ReadString(term)
		s := string(trimLine([]byte(line)))
		if err != nil {
			if errors.Is(err, io.EOF) && s != "" {
				return s, nil
			}
			return s, err
		}
		if s != "" {
			return s, nil
		}
	}
}

func skipTerminators(r *bufio.Reader) error {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return err
		}
		if b[0] != '\n' && b[0] != '\r' {
			return nil
		}
		_, _ = r.ReadByte()
	}
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
