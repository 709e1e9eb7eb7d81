package model

// RetentionPolicy controls how long backup records are kept. Externally
// supplied and read-only to the orchestration core.
type RetentionPolicy struct {
	RetentionDays   int                  `json:"retention_days"`
	PerKindOverride map[ResourceKind]int `json:"per_kind_override,omitempty"`
}

// DaysFor returns the retention window for the given kind, falling back to
// the default when no override is set.
func (p RetentionPolicy) DaysFor(kind ResourceKind) int {
	if days, ok := p.PerKindOverride[kind]; ok {
		return days
	}
	return p.RetentionDays
}
