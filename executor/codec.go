package executor

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/exodus/core"
)

// MaxFrameSize bounds one encoded frame, delimiter excluded.
const MaxFrameSize = 1 << 20

// Delimiter terminates every frame.
const Delimiter = '\n'

var (
	ErrFrameTooLarge = errors.New("executor: frame too large")
	ErrEmptyFrame    = errors.New("executor: empty frame")
)

// EncodeFrame renders v as base64 (standard, padded) of its JSON encoding
// followed by the delimiter.
func EncodeFrame(v any) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("executor: encode: %w", err)
	}

	n := base64.StdEncoding.EncodedLen(len(doc))
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, n+1)
	base64.StdEncoding.Encode(frame, doc)
	frame[n] = Delimiter
	return frame, nil
}

// Encode writes one frame to w.
func Encode(w io.Writer, v any) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// DecodeFrame parses one frame (with or without the trailing delimiter)
// into v. Numbers are decoded as json.Number when v holds untyped values.
// Failures wrap core.ErrProtocolDecode.
func DecodeFrame(frame []byte, v any) error {
	frame = bytes.TrimRight(frame, "\r\n")
	if len(frame) == 0 {
		return decodeError(ErrEmptyFrame)
	}
	if len(frame) > MaxFrameSize {
		return decodeError(ErrFrameTooLarge)
	}

	doc := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(doc, frame)
	if err != nil {
		return decodeError(fmt.Errorf("base64: %w", err))
	}

	dec := json.NewDecoder(bytes.NewReader(doc[:n]))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return decodeError(fmt.Errorf("json: %w", err))
	}
	if dec.More() {
		return decodeError(errors.New("json: trailing data"))
	}
	return nil
}

// Decode reads one frame from r into v. A stream that ends cleanly before
// any byte is read returns io.EOF; a final frame missing its delimiter is
// accepted.
func Decode(r *bufio.Reader, v any) error {
	frame, err := readFrame(r)
	if err != nil {
		return err
	}
	return DecodeFrame(frame, v)
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice(Delimiter)
		if len(buf)+len(chunk) > MaxFrameSize+1 {
			return nil, decodeError(ErrFrameTooLarge)
		}
		buf = append(buf, chunk...)

		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return buf, nil
		default:
			return nil, err
		}
	}
}

type protocolError struct{ err error }

func (e *protocolError) Error() string { return "protocol decode error: " + e.err.Error() }

func (e *protocolError) Unwrap() []error { return []error{core.ErrProtocolDecode, e.err} }

func decodeError(err error) error { return &protocolError{err: err} }
