// SPDX-License-Identifier: MIT
//
// Package build holds the build metadata embedded at link time:
//
//	go build -ldflags "-X iqpipe/pkg/build.buildName=iqpipe \
//	  -X iqpipe/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds leave the variables empty; Initialize then reports
// the first missing one and the defaults stay in place.
package build

import "fmt"

// Description is the one-line summary shown in the CLI help.
const Description = "Record IQ samples to disk with a live spectrogram"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the flags for the version command.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultFlags()
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        "iqpipe",
		Description: Description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags variables into the build flags. It returns
// an error naming the first missing variable and leaves the defaults
// untouched in that case.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
