// Package version identifies a forestnet build: its release, source
// revision and the versions of the libraries it was linked against.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"
)

// Release tags are stamped with
//
//	go build -ldflags="-X github.com/forestnet/forestnet/internal/version.Version=v1.2.3 \
//	                   -X github.com/forestnet/forestnet/internal/version.Commit=abc123"
//
// Otherwise both are derived from the build info.
var (
	Version = ""
	Commit  = ""
)

var (
	builtAt string
	modules map[string]string
)

// tracked are the modules reported by the version command.
var tracked = []string{
	"github.com/charmbracelet/bubbletea",
	"github.com/grandcat/zeroconf",
	"github.com/spf13/cobra",
	"go.uber.org/zap",
	"golang.org/x/crypto",
	"gopkg.in/yaml.v3",
}

func init() {
	fromBuildInfo(debug.ReadBuildInfo())
	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo(info *debug.BuildInfo, ok bool) {
	if !ok || info == nil {
		return
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		Commit = rev[:min(len(rev), 7)]
		if settings["vcs.modified"] == "true" {
			Commit += "-dirty"
		}
	}

	var stamp time.Time
	if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
		stamp = t.UTC()
		builtAt = stamp.Format(time.RFC3339)
	}

	switch {
	case Version != "":
	case info.Main.Version != "" && info.Main.Version != "(devel)":
		Version = info.Main.Version
	case !stamp.IsZero():
		Version = "dev-" + stamp.Format("20060102")
	}

	modules = make(map[string]string)
	for _, dep := range info.Deps {
		for _, path := range tracked {
			if dep.Path == path {
				modules[path] = dep.Version
			}
		}
	}
}

// Full returns the version with its commit, as printed by 'forestnet version'.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent is sent by forestnet clients.
func UserAgent() string {
	return "forestnet/" + strings.TrimPrefix(Version, "v")
}

// Info is the report of 'forestnet version --yaml'.
type Info struct {
	Version   string            `yaml:"version"`
	Commit    string            `yaml:"commit"`
	BuiltAt   string            `yaml:"built_at,omitempty"`
	GoVersion string            `yaml:"go"`
	Platform  string            `yaml:"platform"`
	Modules   map[string]string `yaml:"modules,omitempty"`
}

// Get returns the current report.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuiltAt:   builtAt,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if len(modules) > 0 {
		info.Modules = make(map[string]string, len(modules))
		for k, v := range modules {
			info.Modules[k] = v
		}
	}
	return info
}

// ModuleList renders Modules as "path version" lines in path order.
func (i Info) ModuleList() []string {
	paths := make([]string, 0, len(i.Modules))
	for p := range i.Modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	lines := make([]string, len(paths))
	for n, p := range paths {
		lines[n] = p + " " + i.Modules[p]
	}
	return lines
}
