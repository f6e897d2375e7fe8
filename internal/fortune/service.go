package fortune

import "time"

// The labeler declares its values in a single record of this collection.
const (
	ServiceCollection = "app.bsky.labeler.service"
	ServiceRKey       = "self"
)

const (
	declLang           = "ja"
	declSeverity       = "inform"
	declBlurs          = "none"
	declDefaultSetting = "warn"
)

// ServiceRecord is the labeler declaration clients read to render the
// domain's values.
type ServiceRecord struct {
	Type      string          `json:"$type"`
	CreatedAt string          `json:"createdAt"`
	Policies  ServicePolicies `json:"policies"`
}

type ServicePolicies struct {
	LabelValues           []string          `json:"labelValues"`
	LabelValueDefinitions []ValueDefinition `json:"labelValueDefinitions"`
}

type ValueDefinition struct {
	Identifier     string        `json:"identifier"`
	Severity       string        `json:"severity"`
	Blurs          string        `json:"blurs"`
	DefaultSetting string        `json:"defaultSetting"`
	Locales        []ValueLocale `json:"locales"`
}

type ValueLocale struct {
	Lang        string `json:"lang"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServiceRecord builds the declaration for t's values in domain order.
// A value without a display name is named by its identifier.
func (t *Table) ServiceRecord(now time.Time) ServiceRecord {
	rec := ServiceRecord{
		Type:      ServiceCollection,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	for _, d := range t.defs {
		name := d.Name
		if name == "" {
			name = d.Val
		}
		rec.Policies.LabelValues = append(rec.Policies.LabelValues, d.Val)
		rec.Policies.LabelValueDefinitions = append(rec.Policies.LabelValueDefinitions, ValueDefinition{
			Identifier:     d.Val,
			Severity:       declSeverity,
			Blurs:          declBlurs,
			DefaultSetting: declDefaultSetting,
			Locales:        []ValueLocale{{Lang: declLang, Name: name, Description: d.Description}},
		})
	}
	return rec
}
