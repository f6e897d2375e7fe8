// Package label defines the signed label assertion and the signer that
// produces its detached signature.
package label

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AgentMesh-Net/labeler-go/internal/core/codec"
)

// Version is the label schema version carried in every signed payload.
const Version = 1

// TimeFormat is the created_at encoding: RFC 3339, UTC, millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

const (
	maxSubjectLen = 2048
	maxValueLen   = 128
)

// ErrValidation is returned for malformed subjects, values or issuers.
var ErrValidation = errors.New("invalid label")

// ErrSigning is returned when a label cannot be serialized or signed.
var ErrSigning = errors.New("label signing failed")

// Label is a signed statement that URI carries (or, when Neg is set, no
// longer carries) the value Val, issued by Src.
//
// The cbor tags define the signed payload; Sig is omitted while signing.
type Label struct {
	Ver int64  `cbor:"ver" json:"ver"`
	Src string `cbor:"src" json:"src"`
	URI string `cbor:"uri" json:"uri"`
	CID string `cbor:"cid,omitempty" json:"cid,omitempty"`
	Val string `cbor:"val" json:"val"`
	Neg bool   `cbor:"neg,omitempty" json:"neg,omitempty"`
	Cts string `cbor:"cts" json:"cts"`
	Exp string `cbor:"exp,omitempty" json:"exp,omitempty"`
	Sig []byte `cbor:"sig,omitempty" json:"-"`
}

// New builds an unsigned label stamped with at, truncated to milliseconds.
func New(issuer, subject, value string, neg bool, at time.Time) Label {
	return Label{
		Ver: Version,
		Src: issuer,
		URI: subject,
		Val: value,
		Neg: neg,
		Cts: FormatTime(at),
	}
}

// FormatTime renders t in the label created_at format.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimeFormat)
}

// ParseTime parses a created_at value. Any RFC 3339 timestamp is accepted.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Validate checks the fields a store write depends on.
func (l *Label) Validate() error {
	if l.URI == "" {
		return fmt.Errorf("%w: uri is required", ErrValidation)
	}
	if len(l.URI) > maxSubjectLen {
		return fmt.Errorf("%w: uri exceeds %d bytes", ErrValidation, maxSubjectLen)
	}
	if l.Val == "" {
		return fmt.Errorf("%w: val is required", ErrValidation)
	}
	if len(l.Val) > maxValueLen {
		return fmt.Errorf("%w: val exceeds %d bytes", ErrValidation, maxValueLen)
	}
	if l.Src == "" {
		return fmt.Errorf("%w: src is required", ErrValidation)
	}
	if _, err := ParseTime(l.Cts); err != nil {
		return fmt.Errorf("%w: cts is not valid RFC3339: %v", ErrValidation, err)
	}
	return nil
}

// SignedPreimageBytes returns the canonical CBOR bytes of the label with
// the signature removed.
func (l Label) SignedPreimageBytes() ([]byte, error) {
	l.Sig = nil
	return codec.Marshal(l)
}

type bytesView struct {
	Bytes string `json:"$bytes"`
}

// MarshalJSON renders sig in the {"$bytes": base64} form used by XRPC.
func (l Label) MarshalJSON() ([]byte, error) {
	type plain Label
	out := struct {
		plain
		Sig *bytesView `json:"sig,omitempty"`
	}{plain: plain(l)}
	if len(l.Sig) > 0 {
		out.Sig = &bytesView{Bytes: base64.RawStdEncoding.EncodeToString(l.Sig)}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (l *Label) UnmarshalJSON(data []byte) error {
	type plain Label
	var in struct {
		plain
		Sig *bytesView `json:"sig,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*l = Label(in.plain)
	if in.Sig != nil {
		sig, err := base64.RawStdEncoding.DecodeString(in.Sig.Bytes)
		if err != nil {
			return fmt.Errorf("sig: %w", err)
		}
		l.Sig = sig
	}
	return nil
}
