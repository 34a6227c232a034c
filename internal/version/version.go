// Package version carries the build-time version string for termhub.
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"
