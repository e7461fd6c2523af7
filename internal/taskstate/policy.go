package taskstate

import "fmt"

// AlertPolicy maps alert sources to the severity alerts from that source
// are raised with. It is the single place that decides what can block
// finish.
type AlertPolicy map[Source]Severity

// DefaultAlertPolicy blocks on syntax and validation failures only.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		SourceScope:      SeverityWarning,
		SourceSyntax:     SeverityBlocking,
		SourceValidation: SeverityBlocking,
		SourceChecklist:  SeverityWarning,
		SourcePhase:      SeverityInfo,
		SourceSymbol:     SeverityWarning,
		SourceManual:     SeverityWarning,
	}
}

// SeverityFor returns the configured severity for src, or warning.
func (p AlertPolicy) SeverityFor(src Source) Severity {
	if sev, ok := p[src]; ok {
		return sev
	}
	return SeverityWarning
}

// Merge returns a copy of p with overrides applied.
func (p AlertPolicy) Merge(overrides map[string]string) (AlertPolicy, error) {
	out := make(AlertPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		src, sev := Source(k), Severity(v)
		if !knownSource(src) {
			return nil, fmt.Errorf("unknown alert source %q", k)
		}
		if !sev.Valid() {
			return nil, fmt.Errorf("alert source %q: unknown severity %q", k, v)
		}
		out[src] = sev
	}
	return out, nil
}

func knownSource(s Source) bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}
