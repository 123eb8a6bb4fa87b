package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single frame. A peer that exceeds it is either
// broken or hostile; the connection is torn down without a response.
const MaxLineBytes = 1 << 20 // 1 MiB

// Reader reads newline-delimited JSON envelopes from a stream.
// It is not safe for concurrent use; each connection owns one Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r with a frame reader enforcing MaxLineBytes.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &Reader{scanner: scanner}
}

// ReadEnvelope reads the next LF-terminated line and parses it.
// It returns io.EOF on clean end of stream, ErrLineTooLong when the
// peer exceeds MaxLineBytes, and ErrMalformed (wrapped) on JSON errors.
func (r *Reader) ReadEnvelope() (*Envelope, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		return nil, io.EOF
	}

	var env Envelope
	if err := json.Unmarshal(r.scanner.Bytes(), &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &env, nil
}

// WriteEnvelope marshals env and writes it as a single LF-terminated
// line. The line is assembled first so the frame reaches the socket in
// one Write call; callers serialize concurrent writers themselves.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')
	return writeFull(w, data)
}

// writeFull writes all bytes to w or returns an error.
func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
