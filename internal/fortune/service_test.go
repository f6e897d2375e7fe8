package fortune

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRecord_DefaultDomain(t *testing.T) {
	now := time.Date(2026, 1, 29, 1, 0, 0, 0, JST)
	rec := MustDefault().ServiceRecord(now)

	assert.Equal(t, ServiceCollection, rec.Type)
	assert.Equal(t, "2026-01-28T16:00:00Z", rec.CreatedAt)
	assert.Equal(t, MustDefault().Values(), rec.Policies.LabelValues)
	require.Len(t, rec.Policies.LabelValueDefinitions, 7)

	first := rec.Policies.LabelValueDefinitions[0]
	assert.Equal(t, "daikichi", first.Identifier)
	assert.Equal(t, "inform", first.Severity)
	assert.Equal(t, "none", first.Blurs)
	assert.Equal(t, "warn", first.DefaultSetting)
	assert.Equal(t, []ValueLocale{{Lang: "ja", Name: "大吉", Description: "今日の運勢は大吉！最高の一日があなたを待ってる！"}}, first.Locales)
	for _, d := range rec.Policies.LabelValueDefinitions {
		assert.NotEmpty(t, d.Locales[0].Description, d.Identifier)
	}
}

func TestServiceRecord_JSONShape(t *testing.T) {
	table, err := NewTable([]Def{{Val: "X", Threshold: 100}}, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(table.ServiceRecord(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"$type": "app.bsky.labeler.service",
		"createdAt": "1970-01-01T00:00:00Z",
		"policies": {
			"labelValues": ["X"],
			"labelValueDefinitions": [{
				"identifier": "X",
				"severity": "inform",
				"blurs": "none",
				"defaultSetting": "warn",
				"locales": [{"lang": "ja", "name": "X", "description": ""}]
			}]
		}
	}`, string(raw))
}
