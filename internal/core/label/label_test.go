package label

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return NewSignerFromKey("did:plc:labeler", key)
}

func TestSignedPreimageBytes_Golden(t *testing.T) {
	l := Label{
		Ver: 1,
		Src: "did:plc:test",
		URI: "at://did:plc:test/app.bsky.feed.post/123",
		Val: "test_val",
		Cts: "2026-01-29T00:00:00.000Z",
		Sig: []byte{1, 2, 3},
	}
	got, err := l.SignedPreimageBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a5636374737818323032362d30312d32395430303a30303a30302e3030305a" +
		"637372636c6469643a706c633a74657374" +
		"637572697828" + hex.EncodeToString([]byte("at://did:plc:test/app.bsky.feed.post/123")) +
		"6376616c6874657374" + "5f76616c" +
		"6376657201"
	if hex.EncodeToString(got) != want {
		t.Errorf("got  %x\nwant %s", got, want)
	}
}

func TestSignedPreimageBytes_NegIncluded(t *testing.T) {
	pos := New("did:plc:issuer", "did:plc:a", "kyo", false, time.Unix(0, 0))
	neg := New("did:plc:issuer", "did:plc:a", "kyo", true, time.Unix(0, 0))
	a, _ := pos.SignedPreimageBytes()
	b, _ := neg.SignedPreimageBytes()
	if string(a) == string(b) {
		t.Error("negation must change the signed payload")
	}
}

func TestNew_TruncatesToMillis(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 678901234, time.FixedZone("JST", 9*3600))
	l := New("did:plc:issuer", "did:plc:a", "kichi", false, at)
	if l.Cts != "2026-01-01T18:04:05.678Z" {
		t.Errorf("cts = %s", l.Cts)
	}
	if l.Ver != Version {
		t.Errorf("ver = %d", l.Ver)
	}
}

func TestSign_VerifiesAndIsDeterministic(t *testing.T) {
	s := newTestSigner(t)
	l := New(s.Issuer(), "did:plc:a", "daikichi", false, time.Now())

	a, err := s.Sign(l)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if l.Sig != nil {
		t.Error("input label must not be modified")
	}
	if err := Verify(a, s.PublicKey()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	b, _ := s.Sign(a)
	if string(a.Sig) != string(b.Sig) {
		t.Error("re-signing a signed label must produce the same signature")
	}
}

func TestVerify_TamperedValue(t *testing.T) {
	s := newTestSigner(t)
	signed, err := s.Sign(New(s.Issuer(), "did:plc:a", "daikichi", false, time.Now()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed.Val = "daikyo"
	if err := Verify(signed, s.PublicKey()); err == nil {
		t.Fatal("expected verification failure for tampered label")
	}
}

func TestSign_NoKey(t *testing.T) {
	var s *Signer
	_, err := s.Sign(New("did:plc:issuer", "did:plc:a", "kyo", true, time.Now()))
	if !errors.Is(err, ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
}

func TestNewSigner_BadKey(t *testing.T) {
	_, err := NewSigner("did:plc:issuer", "not-hex")
	if !errors.Is(err, ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ok := New("did:plc:issuer", "did:plc:a", "kyo", false, time.Now())
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(*Label){
		"empty uri": func(l *Label) { l.URI = "" },
		"long uri":  func(l *Label) { l.URI = strings.Repeat("x", maxSubjectLen+1) },
		"empty val": func(l *Label) { l.Val = "" },
		"long val":  func(l *Label) { l.Val = strings.Repeat("v", maxValueLen+1) },
		"empty src": func(l *Label) { l.Src = "" },
		"bad cts":   func(l *Label) { l.Cts = "yesterday" },
	}
	for name, mutate := range cases {
		l := ok
		mutate(&l)
		if err := l.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestMarshalJSON_SigAsBytesObject(t *testing.T) {
	l := New("did:plc:issuer", "did:plc:a", "kyo", true, time.Unix(0, 0))
	l.Sig = []byte{0xde, 0xad, 0xbe, 0xef}

	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"sig":{"$bytes":"3q2+7w"}`) {
		t.Errorf("unexpected json: %s", raw)
	}
	if !strings.Contains(string(raw), `"neg":true`) {
		t.Errorf("expected neg in json: %s", raw)
	}

	var back Label
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back.Sig) != string(l.Sig) || back.Val != l.Val || !back.Neg {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
