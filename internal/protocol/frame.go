package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame is one message on the wire, in either direction. A frame is always
// sent as a single websocket binary message laid out as:
//
//	[4-byte big-endian header length][JSON header][raw payload bytes]
//
// The JSON header carries the event name, the optional ack correlation id,
// and the structured payload. At most one field per event is binary (chunk
// bytes, file bytes); those bytes travel verbatim after the header so they
// never pay the base64 tax.
type Frame struct {
	// Event is the operation or event name. Required.
	Event string
	// AckID correlates a request with its ack. Zero means no ack expected.
	AckID uint64
	// Payload is the structured part of the message.
	Payload json.RawMessage
	// Binary holds the raw bytes of the frame's single binary field, if any.
	Binary []byte
}

type frameHeader struct {
	Event      string          `json:"event"`
	AckID      uint64          `json:"ackId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	BinarySize int64           `json:"binarySize,omitempty"`
}

var (
	errFrameTruncated = errors.New("frame truncated")
	errHeaderTooLarge = errors.New("frame header too large")
)

// EncodeFrame serializes f into a single wire message.
func EncodeFrame(f *Frame) ([]byte, error) {
	hdr := frameHeader{
		Event:      f.Event,
		AckID:      f.AckID,
		Payload:    f.Payload,
		BinarySize: int64(len(f.Binary)),
	}
	hb, err := json.Marshal(&hdr)
	if err != nil {
		return nil, fmt.Errorf("marshal frame header: %w", err)
	}
	if len(hb) > MaxHeaderBytes {
		return nil, errHeaderTooLarge
	}

	out := make([]byte, 4+len(hb)+len(f.Binary))
	binary.BigEndian.PutUint32(out[:4], uint32(len(hb)))
	copy(out[4:], hb)
	copy(out[4+len(hb):], f.Binary)
	return out, nil
}

// DecodeFrame parses a wire message produced by EncodeFrame. The returned
// frame's Binary field aliases data; callers that retain the bytes past the
// lifetime of data must copy.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, errFrameTruncated
	}
	hlen := int(binary.BigEndian.Uint32(data[:4]))
	if hlen > MaxHeaderBytes {
		return nil, errHeaderTooLarge
	}
	if len(data) < 4+hlen {
		return nil, errFrameTruncated
	}

	var hdr frameHeader
	if err := json.Unmarshal(data[4:4+hlen], &hdr); err != nil {
		return nil, fmt.Errorf("unmarshal frame header: %w", err)
	}
	if hdr.Event == "" {
		return nil, errors.New("frame has no event name")
	}

	bin := data[4+hlen:]
	if int64(len(bin)) != hdr.BinarySize {
		return nil, fmt.Errorf("binary size mismatch: header says %d, frame carries %d", hdr.BinarySize, len(bin))
	}

	f := &Frame{
		Event:   hdr.Event,
		AckID:   hdr.AckID,
		Payload: hdr.Payload,
	}
	if len(bin) > 0 {
		f.Binary = bin
	}
	return f, nil
}

// Ack builds the reply frame for a request carrying ackID. payload must
// marshal to a JSON object containing the success field.
func Ack(ackID uint64, payload any, bin []byte) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ack payload: %w", err)
	}
	return &Frame{Event: EventAck, AckID: ackID, Payload: raw, Binary: bin}, nil
}

// ErrorAck builds the failure reply for a request carrying ackID.
func ErrorAck(ackID uint64, err error) *Frame {
	msg := "Something went wrong, try again"
	var pe *Error
	if errors.As(err, &pe) {
		msg = pe.Message
	}
	payload, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
		"code":    CodeOf(err),
	})
	return &Frame{Event: EventAck, AckID: ackID, Payload: payload}
}

// EventFrame builds a broadcast frame with no ack correlation.
func EventFrame(event string, payload any, bin []byte) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Frame{Event: event, Payload: raw, Binary: bin}, nil
}
