package vectorservice

import (
	"fmt"
	"strings"
)

// Level is the overall service level. It decides which path a call takes.
type Level int

const (
	// LevelFull serves search from the cache and the full fallback chain.
	LevelFull Level = iota
	// LevelDegraded routes like LevelFull; the remote is reachable but slow
	// or failing intermittently.
	LevelDegraded
	// LevelEmergency skips the remote and answers from local vectors and
	// keyword search.
	LevelEmergency
	// LevelOffline answers from cached results only.
	LevelOffline
)

var levelNames = [...]string{"FULL", "DEGRADED", "EMERGENCY", "OFFLINE"}

func (l Level) String() string {
	if l < LevelFull || l > LevelOffline {
		return "UNKNOWN"
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

// ParseLevel is case-insensitive.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(s, n) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown service level %q", s)
}

// usesRemote reports whether calls at this level may reach the remote service.
func (l Level) usesRemote() bool { return l <= LevelDegraded }
