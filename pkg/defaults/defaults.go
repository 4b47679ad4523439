// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all runtime configuration defaults.
//
// Usage:
//
//	cfg.FetchTimeout = defaults.FetchTimeout
//	req.Header.Set("Accept", defaults.AcceptGitHubJSON)
//
// DO NOT use hardcoded values like `Timeout: 300` anywhere.
// Instead, reference the appropriate constant from this package.
package defaults

import "time"

// Version is the current wafrules-mcp version
const Version = "1.2.0"

const (
	// ServerName is the MCP server identity announced to clients.
	ServerName = "wafrules-mcp"

	// ServerNameDisplay is the human-readable server title.
	ServerNameDisplay = "WAF Rules MCP Server"
)

// ============================================================================
// TEMPLATE CORPUS
// ============================================================================
//
// The upstream exploit-template corpus the server mirrors and indexes.
// ============================================================================

const (
	// TemplateRepo is the GitHub owner/name of the template corpus.
	TemplateRepo = "projectdiscovery/nuclei-templates"

	// TemplateVersion is the corpus tag mirrored when none is configured.
	TemplateVersion = "v10.3.5"

	// MirrorDirName is the directory the mirror is swapped into, under the
	// configured storage path.
	MirrorDirName = "nuclei-templates"

	// VersionMarkerName is the marker file inside the mirror recording the
	// corpus version the on-disk tree was fetched at.
	VersionMarkerName = ".corpus_version"
)

// ============================================================================
// REFRESH & FETCH TIMING
// ============================================================================

const (
	// RefreshInterval is the default cadence of the background refresh loop.
	RefreshInterval = 24 * time.Hour

	// FetchTimeout bounds a single corpus download, end to end.
	FetchTimeout = 300 * time.Second

	// VersionLookupTimeout bounds a single releases-API call.
	VersionLookupTimeout = 10 * time.Second

	// VersionLookupMaxElapsed caps the backoff spent retrying the
	// releases-API lookup before the cycle gives up.
	VersionLookupMaxElapsed = 30 * time.Second
)

// ============================================================================
// UPSTREAM API
// ============================================================================

const (
	// GitHubAPIBase is the REST API root used for release listing.
	GitHubAPIBase = "https://api.github.com"

	// GitHubArchiveBase is the host serving tag archive downloads.
	GitHubArchiveBase = "https://github.com"

	// AcceptGitHubJSON is the Accept header for GitHub REST calls.
	AcceptGitHubJSON = "application/vnd.github.v3+json"

	// UpstreamRequestsPerSecond rate-limits calls against the upstream
	// repository host.
	UpstreamRequestsPerSecond = 2

	// UpstreamBurst is the rate limiter burst size.
	UpstreamBurst = 4
)

// ============================================================================
// VALIDATION API
// ============================================================================

const (
	// ValidationAPIURL is the default WAF expression validation endpoint.
	ValidationAPIURL = "https://public.gen0sec.com/v1/waf/validate"

	// ValidationTimeout bounds a single validation round trip.
	ValidationTimeout = 30 * time.Second
)

// ============================================================================
// HTTP SERVER
// ============================================================================

const (
	// HTTPAddr is the default listen address for the HTTP transport.
	HTTPAddr = ":8000"

	// ContentTypeJSON is the standard JSON content type.
	ContentTypeJSON = "application/json"
)
