// Package lvstream frames a sequence of byte values as a stream
// of length-value records: [length|value|length|value...] where
// length is a big endian uint32.
package lvstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxValueSize bounds the length of a decoded value (10 MB)
var MaxValueSize = 10 * 1024 * 1024

var (
	// ErrClosed is returned by an encoder or decoder after Close
	ErrClosed = errors.New("closed")
	// ErrTruncated indicates that a decoder was closed in the middle of a record
	ErrTruncated = errors.New("stream ends in the middle of a record")
)

var _ io.ReadCloser = (*Encoder)(nil)

// Encoder is an io.Reader producing the framed form
// of the values returned by nextValue. nextValue
// returns io.EOF once there are no more values.
type Encoder struct {
	nextValue func() ([]byte, error)
	cleanup   func()
	isLength  bool
	length    []byte
	value     []byte
	chunk     []byte
	err       error
}

// NewEncoder creates an encoder. cleanup is called once when the
// encoder reaches the end of its values, fails or is closed.
func NewEncoder(nextValue func() ([]byte, error), cleanup func()) *Encoder {
	if cleanup == nil {
		cleanup = func() {}
	}

	return &Encoder{
		length:    make([]byte, 4),
		nextValue: nextValue,
		cleanup:   cleanup,
	}
}

// Read implements io.Reader
func (encoder *Encoder) Read(p []byte) (int, error) {
	if encoder.err != nil {
		return 0, encoder.err
	}

	n := 0

	for len(p) > 0 {
		if len(encoder.chunk) == 0 {
			if encoder.isLength {
				encoder.isLength = false
				encoder.chunk = encoder.value

				continue
			}

			value, err := encoder.nextValue()

			if err != nil {
				encoder.close(err)

				return n, encoder.err
			}

			if len(value) > MaxValueSize {
				encoder.close(fmt.Errorf("value length is too large: %d > max(%d)", len(value), MaxValueSize))

				return n, encoder.err
			}

			encoder.isLength = true
			encoder.value = value
			binary.BigEndian.PutUint32(encoder.length, uint32(len(value)))
			encoder.chunk = encoder.length
		}

		c := copy(p, encoder.chunk)
		encoder.chunk = encoder.chunk[c:]
		p = p[c:]
		n += c
	}

	return n, nil
}

func (encoder *Encoder) close(err error) {
	if encoder.err != nil {
		return
	}

	encoder.err = err
	encoder.cleanup()
}

// Close stops the encoder
func (encoder *Encoder) Close() error {
	encoder.close(ErrClosed)

	return nil
}

var _ io.WriteCloser = (*Decoder)(nil)

// Decoder is an io.Writer that calls nextValue with
// every complete value written to it
type Decoder struct {
	nextValue func([]byte) error
	isLength  bool
	chunkSize int
	chunk     []byte
	errMu     sync.Mutex
	err       error
}

// NewDecoder creates a decoder. The slice passed to nextValue
// is reused once nextValue returns.
func NewDecoder(nextValue func([]byte) error) *Decoder {
	decoder := &Decoder{
		chunkSize: 4,
		isLength:  true,
		nextValue: nextValue,
	}

	decoder.chunk = reallocate(decoder.chunk, decoder.chunkSize)

	return decoder
}

// Write implements io.Writer
func (decoder *Decoder) Write(p []byte) (int, error) {
	if err := decoder.error(); err != nil {
		return 0, err
	}

	pLen := len(p)

	for len(p) > 0 {
		copyAmount := min(decoder.chunkSize-len(decoder.chunk), len(p))
		decoder.chunk = append(decoder.chunk, p[:copyAmount]...)
		p = p[copyAmount:]

		if len(decoder.chunk) < decoder.chunkSize {
			continue
		}

		if decoder.isLength {
			length := binary.BigEndian.Uint32(decoder.chunk)

			if length > uint32(MaxValueSize) {
				return 0, decoder.fail(fmt.Errorf("encoded value length is too large: %d > max(%d)", length, MaxValueSize))
			}

			decoder.chunkSize = int(length)
			decoder.chunk = reallocate(decoder.chunk, decoder.chunkSize)
			decoder.isLength = false

			if decoder.chunkSize > 0 {
				continue
			}
		}

		if err := decoder.nextValue(decoder.chunk); err != nil {
			return 0, decoder.fail(err)
		}

		decoder.chunkSize = 4
		decoder.chunk = reallocate(decoder.chunk, decoder.chunkSize)
		decoder.isLength = true
	}

	return pLen, nil
}

func (decoder *Decoder) error() error {
	decoder.errMu.Lock()
	defer decoder.errMu.Unlock()

	return decoder.err
}

func (decoder *Decoder) fail(err error) error {
	decoder.errMu.Lock()
	defer decoder.errMu.Unlock()

	if decoder.err == nil {
		decoder.err = err
	}

	return decoder.err
}

// Close returns ErrTruncated if the input ended in the middle of a record
func (decoder *Decoder) Close() error {
	var err error

	if !decoder.isLength || len(decoder.chunk) > 0 {
		err = ErrTruncated
	}

	if previous := decoder.fail(ErrClosed); previous != ErrClosed {
		return previous
	}

	return err
}

func reallocate(b []byte, capacity int) []byte {
	if cap(b) < capacity {
		return make([]byte, 0, capacity)
	}

	return b[:0]
}
