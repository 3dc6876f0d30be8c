package degraded

import (
	"fmt"
	"strings"
)

// Level is the degradation level, ordered by severity.
type Level int

const (
	LevelNormal Level = iota
	LevelMinor
	LevelModerate
	LevelSevere
	LevelCritical
)

var levelNames = [...]string{"NORMAL", "MINOR", "MODERATE", "SEVERE", "CRITICAL"}

func (l Level) String() string {
	if l < LevelNormal || l > LevelCritical {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel accepts level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(s, n) {
			return Level(i), nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown degradation level %q", s)
}

// Priority ranks a feature; CRITICAL features survive every level.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityOptional
)

var priorityNames = [...]string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "OPTIONAL"}

func (p Priority) String() string {
	if p < PriorityCritical || p > PriorityOptional {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority accepts priority names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if strings.EqualFold(s, n) {
			return Priority(i), nil
		}
	}
	return PriorityOptional, fmt.Errorf("unknown feature priority %q", s)
}

// MinimumLevel is the most severe level at which a feature of priority p
// stays enabled:
//
//	NORMAL    all priorities
//	MINOR     all but OPTIONAL
//	MODERATE  CRITICAL, HIGH, MEDIUM
//	SEVERE    CRITICAL, HIGH
//	CRITICAL  CRITICAL
func (p Priority) MinimumLevel() Level {
	switch p {
	case PriorityCritical:
		return LevelCritical
	case PriorityHigh:
		return LevelSevere
	case PriorityMedium:
		return LevelModerate
	case PriorityLow:
		return LevelMinor
	default:
		return LevelNormal
	}
}

// EnabledAt reports whether a feature of priority p is enabled at level l.
func (p Priority) EnabledAt(l Level) bool { return l <= p.MinimumLevel() }
