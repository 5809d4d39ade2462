// Package version holds the gateway version string.
package version

// Version is the release version reported by /health.
const Version = "1.0.0"
