// Package buildinfo carries version details stamped at link time:
//
//	go build -ldflags "-X github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/buildinfo.Version=v1.2.3"
package buildinfo

import "runtime/debug"

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func init() {
	if Revision != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Revision = s.Value
		case "vcs.time":
			if BuildDate == "" {
				BuildDate = s.Value
			}
		}
	}
}
