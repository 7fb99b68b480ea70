package buildinfo

import (
	"fmt"
	"runtime"
)

// Values below are set at build time with -ldflags "-X".
var (
	// GitCommit is the commit the binary was built from.
	GitCommit = "default-git-commit"
	// GitBranch is the branch the binary was built from.
	GitBranch = "default-git-branch"
	// GitState is clean or dirty.
	GitState = "default-git-state"
	// BuildDate is the build timestamp.
	BuildDate = "default-build-date"
	// Version is the release version.
	Version = "default-version"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GitBranch string `json:"gitBranch"`
	GitCommit string `json:"gitCommit"`
	GitState  string `json:"gitState"`
	GoVersion string `json:"goVersion"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		BuildDate: BuildDate,
		GitBranch: GitBranch,
		GitCommit: GitCommit,
		GitState:  GitState,
		GoVersion: runtime.Version(),
	}
}

// Summary prints a summary of all build info.
func Summary() string {
	i := Get()
	return fmt.Sprintf(
		"\tversion:\t%s\n\tbuild date:\t%s\n\tgit branch:\t%s\n\tgit commit:\t%s\n\tgit state:\t%s\n\tgo version:\t%s",
		i.Version,
		i.BuildDate,
		i.GitBranch,
		i.GitCommit,
		i.GitState,
		i.GoVersion,
	)
}
