// Package version хранит сведения о сборке grocer.
package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/grocer/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о бинарнике, отдаются в /readyz и в стартовом логе.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current возвращает сведения о сборке. Если коммит не передан через
// ldflags, берётся ревизия VCS из debug.BuildInfo.
func Current() Build {
	return resolve(debug.ReadBuildInfo)
}

func resolve(readInfo func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit != "unknown" {
		return b
	}
	info, ok := readInfo()
	if !ok || info == nil {
		return b
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Commit = shortRevision(setting.Value)
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = setting.Value
			}
		}
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String форматирует сведения о сборке для логов.
func (b Build) String() string {
	return fmt.Sprintf("grocer version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// String: короткая форма Current().String().
func String() string {
	return Current().String()
}
