// Package codec provides the deterministic CBOR encoding used for label
// signing preimages and for subscribeLabels stream frames.
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): map keys are
// sorted by their encoded bytes, integers use the smallest form and no
// indefinite-length items are emitted. For string-keyed maps this is the
// same byte layout as DAG-CBOR, so identical field values always produce
// identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a single CBOR item into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// UnmarshalFirst decodes the first CBOR item in data into v and returns the
// remaining bytes. Stream frames are two concatenated items (header, body).
func UnmarshalFirst(data []byte, v any) ([]byte, error) {
	rest, err := decMode.UnmarshalFirst(data, v)
	if err != nil {
		return nil, fmt.Errorf("codec: unmarshal first: %w", err)
	}
	return rest, nil
}
