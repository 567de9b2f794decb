package rules

import (
	"sort"

	"caseflow/internal/domain"
)

// Kind is the value type a field resolves to.
type Kind int

const (
	KindString Kind = iota
	KindDate
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	default:
		return "string"
	}
}

// Field is a named, typed accessor over a case.
type Field struct {
	Name string
	Kind Kind
	get  func(domain.Case) (string, bool)
}

// Value resolves the field on c. ok is false when the value is absent.
func (f Field) Value(c domain.Case) (string, bool) {
	if f.get == nil {
		return "", false
	}
	return f.get(c)
}

func offenderField(name string, kind Kind, fn func(domain.Offender) string) Field {
	return Field{Name: name, Kind: kind, get: func(c domain.Case) (string, bool) {
		v := fn(c.Offender)
		return v, v != ""
	}}
}

func episodeField(name string, kind Kind, fn func(domain.Episode) string) Field {
	return Field{Name: name, Kind: kind, get: func(c domain.Case) (string, bool) {
		if c.Episode == nil {
			return "", false
		}
		v := fn(*c.Episode)
		return v, v != ""
	}}
}

// offender fields win over episode fields of the same name.
var offenderFields = map[string]Field{
	"badge_id":          offenderField("badge_id", KindString, func(o domain.Offender) string { return o.BadgeID }),
	"first_name":        offenderField("first_name", KindString, func(o domain.Offender) string { return o.FirstName }),
	"last_name":         offenderField("last_name", KindString, func(o domain.Offender) string { return o.LastName }),
	"dob":               offenderField("dob", KindDate, func(o domain.Offender) string { return o.DOB }),
	"gender":            offenderField("gender", KindString, func(o domain.Offender) string { return o.Gender }),
	"release_date":      offenderField("release_date", KindDate, func(o domain.Offender) string { return o.ReleaseDate }),
	"csed_date":         offenderField("csed_date", KindDate, func(o domain.Offender) string { return o.CSEDDate }),
	"employment_status": offenderField("employment_status", KindString, func(o domain.Offender) string { return o.EmploymentStatus }),
	"special_flags":     offenderField("special_flags", KindString, func(o domain.Offender) string { return o.SpecialFlags }),
}

var episodeFields = map[string]Field{
	"status":              episodeField("status", KindString, func(e domain.Episode) string { return e.Status }),
	"start_date":          episodeField("start_date", KindDate, func(e domain.Episode) string { return e.StartDate }),
	"end_date":            episodeField("end_date", KindDate, func(e domain.Episode) string { return e.EndDate }),
	"risk_level_at_start": episodeField("risk_level_at_start", KindString, func(e domain.Episode) string { return e.RiskLevelAtStart }),
	"current_risk_level":  episodeField("current_risk_level", KindString, func(e domain.Episode) string { return e.CurrentRiskLevel }),
	"assigned_officer_id": episodeField("assigned_officer_id", KindString, func(e domain.Episode) string { return e.AssignedOfficerID }),
	"risk_level": episodeField("risk_level", KindString, func(e domain.Episode) string {
		if e.CurrentRiskLevel != "" {
			return e.CurrentRiskLevel
		}
		return e.RiskLevelAtStart
	}),
}

// Lookup resolves a symbolic field name. risk_level always resolves on the
// episode; other names resolve on the offender first, then the episode.
func Lookup(name string) (Field, bool) {
	if name == "risk_level" {
		f := episodeFields[name]
		return f, true
	}
	if f, ok := offenderFields[name]; ok {
		return f, true
	}
	f, ok := episodeFields[name]
	return f, ok
}

// FieldNames lists every registered field, sorted.
func FieldNames() []string {
	seen := map[string]struct{}{}
	for k := range offenderFields {
		seen[k] = struct{}{}
	}
	for k := range episodeFields {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
