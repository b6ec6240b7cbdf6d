// Package secrets redacts credentials from text before it is sent to an
// upstream model or written to the summary store.
//
// Detection uses the Gitleaks default rule set. An optional TOML allowlist
// excludes known-safe patterns such as demo keys.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates the allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrAllowlistNotFound indicates the configured allowlist file does not exist.
	ErrAllowlistNotFound = errors.New("allowlist file not found")
)
