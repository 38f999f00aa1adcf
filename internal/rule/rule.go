// Package rule implements rule construction, validation and the
// activation evaluator that decides whether a rule blocks right now.
package rule

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// NewID returns a sortable unique rule/event identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewAppRule validates and constructs an app block rule.
func NewAppRule(appName, appPath string, spec domain.RuleSpec) (domain.AppRule, error) {
	if strings.TrimSpace(appName) == "" {
		return domain.AppRule{}, &domain.ValidationError{Field: "appName", Reason: "must not be empty"}
	}
	if strings.TrimSpace(appPath) == "" {
		return domain.AppRule{}, &domain.ValidationError{Field: "appPath", Reason: "must not be empty"}
	}
	if err := validateSpec(spec); err != nil {
		return domain.AppRule{}, err
	}
	return domain.AppRule{
		ID:       NewID(),
		AppName:  appName,
		AppPath:  appPath,
		RuleSpec: spec,
	}, nil
}

// NewWebsiteRule validates and constructs a website block rule.
// The domain is normalized before storage.
func NewWebsiteRule(rawDomain string, spec domain.RuleSpec) (domain.WebsiteRule, error) {
	normalized := NormalizeDomain(rawDomain)
	if normalized == "" {
		return domain.WebsiteRule{}, &domain.ValidationError{Field: "domain", Reason: "must not be empty"}
	}
	if err := validateSpec(spec); err != nil {
		return domain.WebsiteRule{}, err
	}
	return domain.WebsiteRule{
		ID:       NewID(),
		Domain:   normalized,
		RuleSpec: spec,
	}, nil
}

// NormalizeDomain lowercases and strips scheme, "www." prefix, path
// and trailing slash, so "https://www.Reddit.com/r/all" becomes
// "reddit.com".
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return d
}

func validateSpec(spec domain.RuleSpec) error {
	switch spec.Kind {
	case domain.KindPermanent:
		return nil

	case domain.KindTimer:
		if spec.DurationMinutes <= 0 {
			return &domain.ValidationError{Field: "durationMinutes", Reason: "must be positive"}
		}
		if spec.StartTime.IsZero() {
			return &domain.ValidationError{Field: "startTime", Reason: "must be set"}
		}
		return nil

	case domain.KindSchedule:
		if len(spec.Days) == 0 {
			return &domain.ValidationError{Field: "days", Reason: "must not be empty"}
		}
		for _, day := range spec.Days {
			if day < time.Sunday || day > time.Saturday {
				return &domain.ValidationError{Field: "days", Reason: "weekday out of range"}
			}
		}
		for _, h := range []struct {
			name  string
			value int
		}{
			{"startHour", spec.StartHour},
			{"endHour", spec.EndHour},
		} {
			if h.value < 0 || h.value > 23 {
				return &domain.ValidationError{Field: h.name, Reason: "must be in [0,23]"}
			}
		}
		for _, m := range []struct {
			name  string
			value int
		}{
			{"startMinute", spec.StartMinute},
			{"endMinute", spec.EndMinute},
		} {
			if m.value < 0 || m.value > 59 {
				return &domain.ValidationError{Field: m.name, Reason: "must be in [0,59]"}
			}
		}
		return nil

	default:
		return &domain.ValidationError{Field: "kind", Reason: "unknown rule kind"}
	}
}

// Update carries partial field edits for an existing rule. Nil fields
// are left unchanged. ID, Kind and CreatedAt are immutable.
type Update struct {
	AppName *string
	AppPath *string
	Domain  *string

	Enabled *bool

	StartTime       *time.Time
	DurationMinutes *int

	Days        *[]time.Weekday
	StartHour   *int
	StartMinute *int
	EndHour     *int
	EndMinute   *int
}

// ApplyToApp merges an update into an app rule and re-validates the
// result. On error the original rule is unchanged.
func (u Update) ApplyToApp(r domain.AppRule) (domain.AppRule, error) {
	merged := r
	if u.AppName != nil {
		merged.AppName = *u.AppName
	}
	if u.AppPath != nil {
		merged.AppPath = *u.AppPath
	}
	merged.RuleSpec = u.mergeSpec(r.RuleSpec)

	if strings.TrimSpace(merged.AppName) == "" {
		return r, &domain.ValidationError{Field: "appName", Reason: "must not be empty"}
	}
	if strings.TrimSpace(merged.AppPath) == "" {
		return r, &domain.ValidationError{Field: "appPath", Reason: "must not be empty"}
	}
	if err := validateSpec(merged.RuleSpec); err != nil {
		return r, err
	}
	return merged, nil
}

// ApplyToWebsite merges an update into a website rule, normalizing a
// replacement domain, and re-validates the result.
func (u Update) ApplyToWebsite(r domain.WebsiteRule) (domain.WebsiteRule, error) {
	merged := r
	if u.Domain != nil {
		merged.Domain = NormalizeDomain(*u.Domain)
	}
	merged.RuleSpec = u.mergeSpec(r.RuleSpec)

	if merged.Domain == "" {
		return r, &domain.ValidationError{Field: "domain", Reason: "must not be empty"}
	}
	if err := validateSpec(merged.RuleSpec); err != nil {
		return r, err
	}
	return merged, nil
}

func (u Update) mergeSpec(spec domain.RuleSpec) domain.RuleSpec {
	if u.Enabled != nil {
		spec.Enabled = *u.Enabled
	}
	if u.StartTime != nil {
		spec.StartTime = *u.StartTime
	}
	if u.DurationMinutes != nil {
		spec.DurationMinutes = *u.DurationMinutes
	}
	if u.Days != nil {
		spec.Days = *u.Days
	}
	if u.StartHour != nil {
		spec.StartHour = *u.StartHour
	}
	if u.StartMinute != nil {
		spec.StartMinute = *u.StartMinute
	}
	if u.EndHour != nil {
		spec.EndHour = *u.EndHour
	}
	if u.EndMinute != nil {
		spec.EndMinute = *u.EndMinute
	}
	return spec
}
