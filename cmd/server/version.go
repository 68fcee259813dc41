package main

import (
	"runtime"

	"github.com/inferloop/dpledger/pkg/constants"
)

// Build metadata, overridable at link time via
// -ldflags "-X main.GitCommit=... -X main.BuildDate=...".
var (
	Version   = constants.AppVersion
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Name:      constants.AppName,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
