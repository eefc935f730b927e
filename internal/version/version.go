// Package version describes the running dss build.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/dss"
	unknownVersion = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/dss/internal/version.buildVersion=...".
var buildVersion = ""

// Build is what the binary knows about its own provenance.
type Build struct {
	Module    string    `json:"module" yaml:"module"`
	Version   string    `json:"version" yaml:"version"`
	Revision  string    `json:"revision,omitempty" yaml:"revision,omitempty"`
	Committed time.Time `json:"committed,omitzero" yaml:"committed,omitempty"`
	Dirty     bool      `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	Go        string    `json:"go,omitempty" yaml:"go,omitempty"`
}

// Read collects build details from the linker flag and debug.ReadBuildInfo.
func Read() Build {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info, buildVersion)
}

// Current returns the version of the running binary.
func Current() string { return Read().Version }

// Module returns the main module path.
func Module() string { return Read().Module }

// String renders the build on one line, e.g.
// "pkt.systems/dss v1.2.0 (0123456789ab, dirty)".
func (b Build) String() string {
	var extra []string
	if b.Revision != "" && !strings.Contains(b.Version, b.Revision) {
		extra = append(extra, b.Revision)
	}
	if b.Dirty && !strings.HasSuffix(b.Version, "+dirty") {
		extra = append(extra, "dirty")
	}
	if len(extra) == 0 {
		return b.Module + " " + b.Version
	}
	return fmt.Sprintf("%s %s (%s)", b.Module, b.Version, strings.Join(extra, ", "))
}

func fromBuildInfo(info *debug.BuildInfo, linked string) Build {
	b := Build{Module: defaultModule, Version: unknownVersion}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			b.Module = path
		}
		b.Go = info.GoVersion
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				b.Revision = shortRevision(setting.Value)
			case "vcs.time":
				if ts, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					b.Committed = ts.UTC()
				}
			case "vcs.modified":
				b.Dirty = setting.Value == "true"
			}
		}
	}
	switch {
	case strings.TrimSpace(linked) != "":
		b.Version = strings.TrimSpace(linked)
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		b.Version = info.Main.Version
	case b.Revision != "" && !b.Committed.IsZero():
		b.Version = pseudoVersion(b)
	}
	return b
}

// pseudoVersion mimics the go command's v0.0.0-<time>-<rev> form.
func pseudoVersion(b Build) string {
	v := "v0.0.0-" + b.Committed.Format("20060102150405") + "-" + b.Revision
	if b.Dirty {
		v += "+dirty"
	}
	return v
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
