package common

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var version string

// Version returns the build version stamped into results and archived runs.
func Version() string {
	return strings.TrimSpace(version)
}

// ServerName is the value of the Server header sent by the HTTP API.
func ServerName() string {
	return "PowerSim/" + Version()
}
