// Copyright © 2024 Zyncio

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, injected through -ldflags at release time.
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

// VersionInfo collects the build information of the running binary.
type VersionInfo struct {
	Version   string `json:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GitState  string `json:"gitState,omitempty"`
}

// NewVersionInfo resolves the injected build variables. Unreleased builds
// report as "dev" with an unknown working tree state.
func NewVersionInfo() VersionInfo {
	v := VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GitState:  GitState,
	}
	if v.Version == "" {
		v.Version = "dev"
	} else if v.GitState == "" {
		v.GitState = "clean"
	}
	return v
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("Version: %s\nBuild date: %s\nCommit: %s\nWorking tree: %s\n",
		v.Version, v.BuildDate, v.GitCommit, v.GitState)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the version of zync",
	Long: `Prints the version of zync: the semver tag the binary was built
from, the build date, the commit hash and whether the working tree was
dirty during the build.`,
	Run: func(cmd *cobra.Command, args []string) {
		logStdOut(NewVersionInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
