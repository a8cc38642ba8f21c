package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame layout: a 4-byte unsigned little-endian length followed by exactly
// that many bytes of UTF-8 JSON encoding one Envelope.
const lengthPrefixSize = 4

// MaxFrameSize caps the declared body length of a single frame. A peer
// declaring more is a protocol error and the connection is dropped.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge reports a declared frame length above MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: declared frame length exceeds maximum")

// Encode serializes the envelope and prepends its length prefix. The result
// can be written to the connection as-is.
func Encode(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", env.Type, err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, lengthPrefixSize+len(body))
	binary.LittleEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(body)))
	copy(buf[lengthPrefixSize:], body)
	return buf, nil
}

// Result is one completed frame produced by Decoder.Feed. A non-nil Err
// means the frame body was not a valid envelope; the decoder itself remains
// usable for the frames that follow.
type Result struct {
	Env Envelope
	Err error
}

// Decoder incrementally parses a byte stream into envelopes. Bytes arrive in
// whatever chunks the network delivers; the decoder retains partial state
// between Feed calls so the output is independent of chunk boundaries.
//
// At any moment the decoder is accumulating either the 4-byte length prefix
// or the declared number of body bytes, never both.
type Decoder struct {
	needPrefix int // prefix bytes still missing, 0 while reading a body
	prefix     [lengthPrefixSize]byte
	bodyLen    int
	body       []byte
}

// NewDecoder returns a decoder ready for the start of a frame.
func NewDecoder() *Decoder {
	return &Decoder{needPrefix: lengthPrefixSize}
}

// Feed consumes p in order and returns one Result per frame completed by
// these bytes; a call may complete zero, one, or several frames. A non-nil
// error is a protocol violation that poisons the whole stream.
func (d *Decoder) Feed(p []byte) ([]Result, error) {
	var results []Result
	for len(p) > 0 {
		if d.needPrefix > 0 {
			n := copy(d.prefix[lengthPrefixSize-d.needPrefix:], p)
			d.needPrefix -= n
			p = p[n:]
			if d.needPrefix > 0 {
				return results, nil
			}
			d.bodyLen = int(binary.LittleEndian.Uint32(d.prefix[:]))
			if d.bodyLen > MaxFrameSize {
				return results, ErrFrameTooLarge
			}
			d.body = make([]byte, 0, d.bodyLen)
		}
		take := d.bodyLen - len(d.body)
		if take > len(p) {
			take = len(p)
		}
		d.body = append(d.body, p[:take]...)
		p = p[take:]
		if len(d.body) < d.bodyLen {
			return results, nil
		}
		results = append(results, d.complete())
	}
	return results, nil
}

// complete decodes the accumulated body and resets for the next frame. A
// body that fails to decode is reported in the Result without disturbing
// the framing.
func (d *Decoder) complete() Result {
	body := d.body
	d.body = nil
	d.bodyLen = 0
	d.needPrefix = lengthPrefixSize

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{Err: fmt.Errorf("wire: invalid message body: %w", err)}
	}
	return Result{Env: env}
}
