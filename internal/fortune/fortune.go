// Package fortune defines the label value domain (the seven daily
// fortunes), the deterministic daily lottery that picks one per subject,
// the override window and the keyword table used by report overrides.
package fortune

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Def is one value of the domain. A lottery roll r in [0,100) selects the
// first Def with r < Threshold.
type Def struct {
	Val       string
	Name      string
	Threshold uint32
	// Description is shown to users in the labeler's declaration.
	Description string
}

// Default is the production domain.
var Default = []Def{
	{Val: "daikichi", Name: "大吉", Threshold: 6, Description: "今日の運勢は大吉！最高の一日があなたを待ってる！"},
	{Val: "kichi", Name: "吉", Threshold: 28, Description: "今日の運勢は吉！楽しい一日になりそう！"},
	{Val: "chukichi", Name: "中吉", Threshold: 50, Description: "今日の運勢は中吉！楽しんでいこ！"},
	{Val: "shokichi", Name: "小吉", Threshold: 70, Description: "今日の運勢は小吉！小さな幸せ見つけよう！"},
	{Val: "suekichi", Name: "末吉", Threshold: 88, Description: "今日の運勢は末吉！すえひろがりな一日を！"},
	{Val: "kyo", Name: "凶", Threshold: 97, Description: "今日の運勢は凶。気を引き締めていこう！"},
	{Val: "daikyo", Name: "大凶", Threshold: 100, Description: "今日の運勢は大凶。無理せず慎重に！"},
}

// JST is the reference zone of the override window and the lottery date.
var JST = time.FixedZone("JST", 9*60*60)

type keyword struct {
	phrase string
	val    string
}

// Table is an immutable value domain bound to a window timezone.
type Table struct {
	defs     []Def
	loc      *time.Location
	keywords []keyword
}

// NewTable validates defs: values must be unique and non-empty, and
// thresholds strictly increasing up to exactly 100. A nil loc means JST.
func NewTable(defs []Def, loc *time.Location) (*Table, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("fortune: empty domain")
	}
	if loc == nil {
		loc = JST
	}
	seen := make(map[string]bool, len(defs))
	var prev uint32
	for i, d := range defs {
		if d.Val == "" {
			return nil, fmt.Errorf("fortune: def %d has empty value", i)
		}
		if seen[d.Val] {
			return nil, fmt.Errorf("fortune: duplicate value %q", d.Val)
		}
		seen[d.Val] = true
		if d.Threshold <= prev {
			return nil, fmt.Errorf("fortune: threshold of %q must exceed %d", d.Val, prev)
		}
		prev = d.Threshold
	}
	if prev != 100 {
		return nil, fmt.Errorf("fortune: last threshold must be 100, got %d", prev)
	}

	t := &Table{defs: append([]Def(nil), defs...), loc: loc}
	for _, d := range t.defs {
		t.keywords = append(t.keywords, keyword{phrase: strings.ToLower(d.Val), val: d.Val})
		if d.Name != "" {
			t.keywords = append(t.keywords, keyword{phrase: d.Name, val: d.Val})
		}
	}
	// Longest phrase first so "daikichi" wins over "kichi" and "大吉" over "吉".
	sort.SliceStable(t.keywords, func(i, j int) bool {
		return len(t.keywords[i].phrase) > len(t.keywords[j].phrase)
	})
	return t, nil
}

// MustDefault returns the production table in JST.
func MustDefault() *Table {
	t, err := NewTable(Default, JST)
	if err != nil {
		panic(err)
	}
	return t
}

// Values returns the domain values in declaration order.
func (t *Table) Values() []string {
	out := make([]string, len(t.defs))
	for i, d := range t.defs {
		out[i] = d.Val
	}
	return out
}

// Defs returns a copy of the definitions.
func (t *Table) Defs() []Def { return append([]Def(nil), t.defs...) }

// Contains reports whether v is a domain value.
func (t *Table) Contains(v string) bool {
	for _, d := range t.defs {
		if d.Val == v {
			return true
		}
	}
	return false
}

// Location is the override window timezone.
func (t *Table) Location() *time.Location { return t.loc }

// WindowKey names the override window containing at: its calendar date in
// the table's timezone.
func (t *Table) WindowKey(at time.Time) string {
	return at.In(t.loc).Format("2006-01-02")
}

// SameWindow reports whether a and b fall in the same override window.
func (t *Table) SameWindow(a, b time.Time) bool {
	return t.WindowKey(a) == t.WindowKey(b)
}

// NextWindow returns the start of the window after the one containing at.
func (t *Table) NextWindow(at time.Time) time.Time {
	local := at.In(t.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
}

// Decide returns the subject's value for the window containing now.
func (t *Table) Decide(subject string, now time.Time) string {
	return t.Calculate(subject, t.WindowKey(now))
}

// Calculate rolls SHA-256(subject + date): the first four digest bytes,
// big-endian, modulo 100.
func (t *Table) Calculate(subject, date string) string {
	sum := sha256.Sum256([]byte(subject + date))
	roll := binary.BigEndian.Uint32(sum[:4]) % 100
	for _, d := range t.defs {
		if roll < d.Threshold {
			return d.Val
		}
	}
	return t.defs[len(t.defs)-1].Val
}

// MatchKeyword scans free text for a recognised value or display name and
// returns the value of the longest match. ASCII matching is case
// insensitive.
func (t *Table) MatchKeyword(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range t.keywords {
		if strings.Contains(lower, k.phrase) {
			return k.val, true
		}
	}
	return "", false
}
