package codec

import (
	"encoding/hex"
	"testing"
)

type wrapper struct {
	Seq    int64    `cbor:"seq"`
	Labels []string `cbor:"labels"`
}

func TestMarshal_KeyOrderingIsLengthFirst(t *testing.T) {
	// "seq" sorts before "labels" because its encoded key is shorter.
	got, err := Marshal(wrapper{Seq: 12345, Labels: []string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a263736571193039666c6162656c7380"
	if hex.EncodeToString(got) != want {
		t.Errorf("got %x, want %s", got, want)
	}
}

func TestMarshal_MapEqualsStruct(t *testing.T) {
	a, err := Marshal(map[string]any{"labels": []string{}, "seq": 12345})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Marshal(wrapper{Seq: 12345, Labels: []string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("map encoding %x differs from struct encoding %x", a, b)
	}
}

func TestUnmarshalFirst_SplitsConcatenatedItems(t *testing.T) {
	head, err := Marshal(map[string]any{"op": 1, "t": "#labels"})
	if err != nil {
		t.Fatalf("marshal head: %v", err)
	}
	body, err := Marshal(wrapper{Seq: 7, Labels: []string{"a"}})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	frame := append(append([]byte{}, head...), body...)

	var h struct {
		Op int64  `cbor:"op"`
		T  string `cbor:"t"`
	}
	rest, err := UnmarshalFirst(frame, &h)
	if err != nil {
		t.Fatalf("unmarshal head: %v", err)
	}
	if h.Op != 1 || h.T != "#labels" {
		t.Errorf("header = %+v", h)
	}
	var w wrapper
	if err := Unmarshal(rest, &w); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if w.Seq != 7 || len(w.Labels) != 1 || w.Labels[0] != "a" {
		t.Errorf("body = %+v", w)
	}
}
