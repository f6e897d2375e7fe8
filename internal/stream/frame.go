package stream

import (
	"fmt"

	"github.com/AgentMesh-Net/labeler-go/internal/core/codec"
	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
)

// Frame operation codes.
const (
	OpMessage int64 = 1
	OpError   int64 = -1
)

// MessageTypeLabels is the header discriminant of a labels frame.
const MessageTypeLabels = "#labels"

// Error frame names.
const (
	ErrorConsumerTooSlow = "ConsumerTooSlow"
	ErrorShutdown        = "ServerShutdown"
)

// Header is the first CBOR item of every frame.
type Header struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t,omitempty"`
}

// LabelsBody is the second CBOR item of a labels frame.
type LabelsBody struct {
	Seq    int64         `cbor:"seq"`
	Labels []label.Label `cbor:"labels"`
}

// ErrorBody is the second CBOR item of an error frame.
type ErrorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message,omitempty"`
}

// EncodeFrame builds a labels frame: header {op:1, t:"#labels"} followed
// by body {seq, labels}.
func EncodeFrame(seq int64, labels []label.Label) ([]byte, error) {
	if labels == nil {
		labels = []label.Label{}
	}
	return encode(Header{Op: OpMessage, T: MessageTypeLabels}, LabelsBody{Seq: seq, Labels: labels})
}

// EncodeErrorFrame builds an error frame: header {op:-1} followed by body
// {error, message}.
func EncodeErrorFrame(name, message string) ([]byte, error) {
	return encode(Header{Op: OpError}, ErrorBody{Error: name, Message: message})
}

func encode(h Header, body any) ([]byte, error) {
	head, err := codec.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode frame header: %w", err)
	}
	b, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode frame body: %w", err)
	}
	return append(head, b...), nil
}

// DecodeFrame splits a frame into its header and the raw body item.
func DecodeFrame(frame []byte) (Header, []byte, error) {
	var h Header
	rest, err := codec.UnmarshalFirst(frame, &h)
	if err != nil {
		return Header{}, nil, fmt.Errorf("decode frame header: %w", err)
	}
	return h, rest, nil
}

// DecodeLabelsFrame decodes a frame produced by EncodeFrame.
func DecodeLabelsFrame(frame []byte) (LabelsBody, error) {
	h, rest, err := DecodeFrame(frame)
	if err != nil {
		return LabelsBody{}, err
	}
	if h.Op != OpMessage || h.T != MessageTypeLabels {
		return LabelsBody{}, fmt.Errorf("decode frame: unexpected header op=%d t=%q", h.Op, h.T)
	}
	var body LabelsBody
	if err := codec.Unmarshal(rest, &body); err != nil {
		return LabelsBody{}, fmt.Errorf("decode frame body: %w", err)
	}
	return body, nil
}
