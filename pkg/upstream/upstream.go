// Package upstream talks to the repository hosting the template corpus.
// It downloads version-addressed tag archives and resolves the latest
// published release.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/httpclient"
	"github.com/gen0sec/wafrules-mcp/pkg/iohelper"
	"github.com/gen0sec/wafrules-mcp/pkg/jsonutil"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
)

// Sentinel errors for upstream failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrVersionNotFound indicates the requested version has no tag
	// archive upstream.
	ErrVersionNotFound = errors.New("upstream: version not found")

	// ErrNoReleases indicates the repository has no published releases.
	ErrNoReleases = errors.New("upstream: no releases")
)

// Client fetches corpus content from the upstream repository.
type Client interface {
	// FetchArchive downloads the tag archive for version into the file
	// at dest. The file is created or truncated. A partial write leaves
	// dest in an undefined state; callers treat dest as disposable.
	FetchArchive(ctx context.Context, version, dest string) error

	// LatestVersion returns the tag name of the newest published
	// release, normalized to a "v" prefix.
	LatestVersion(ctx context.Context) (string, error)
}

// release is the subset of the GitHub release object we read.
type release struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	PublishedAt string `json:"published_at"`
}

// GitHub is the GitHub-backed Client. The zero value is not usable;
// construct with NewGitHub.
type GitHub struct {
	Owner       string
	Repo        string
	APIBase     string
	ArchiveBase string
	HTTPClient  *http.Client

	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewGitHub returns a Client for the given repository. The HTTP client
// timeout covers a full archive download; per-call deadlines come from
// the caller's context.
func NewGitHub(owner, repo string) *GitHub {
	return &GitHub{
		Owner:       owner,
		Repo:        repo,
		APIBase:     defaults.GitHubAPIBase,
		ArchiveBase: defaults.GitHubArchiveBase,
		HTTPClient:  httpclient.New(httpclient.WithTimeout(defaults.FetchTimeout)),
		limiter:     rate.NewLimiter(rate.Limit(defaults.UpstreamRequestsPerSecond), defaults.UpstreamBurst),
		log:         logrus.WithField("component", "upstream"),
	}
}

// NormalizeVersion trims whitespace and ensures the "v" tag prefix the
// corpus repository uses for releases.
func NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return version
	}
	if !strings.HasPrefix(version, "v") && !strings.HasPrefix(version, "V") {
		return "v" + version
	}
	if strings.HasPrefix(version, "V") {
		return "v" + version[1:]
	}
	return version
}

// ArchiveURL returns the tag archive URL for version.
func (g *GitHub) ArchiveURL(version string) string {
	return fmt.Sprintf("%s/%s/%s/archive/refs/tags/%s.zip", g.ArchiveBase, g.Owner, g.Repo, version)
}

// FetchArchive implements Client.
func (g *GitHub) FetchArchive(ctx context.Context, version, dest string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	url := g.ArchiveURL(version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", ui.UserAgentWithContext("Mirror"))

	start := time.Now()
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch archive: %w", err)
	}
	defer iohelper.DrainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("archive download failed: HTTP %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"version":  version,
		"bytes":    written,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("archive downloaded")
	return nil
}

// LatestVersion implements Client. Transient API failures are retried
// with exponential backoff; a repository without releases is permanent.
func (g *GitHub) LatestVersion(ctx context.Context) (string, error) {
	var tag string

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = defaults.VersionLookupMaxElapsed

	err := backoff.RetryNotify(func() error {
		var err error
		tag, err = g.fetchLatestTag(ctx)
		return err
	}, backoff.WithContext(bo, ctx), func(err error, _ time.Duration) {
		g.log.WithError(err).Debug("retrying release lookup")
	})
	if err != nil {
		return "", err
	}
	return NormalizeVersion(tag), nil
}

func (g *GitHub) fetchLatestTag(ctx context.Context) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", backoff.Permanent(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, defaults.VersionLookupTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.APIBase, g.Owner, g.Repo)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", defaults.AcceptGitHubJSON)
	req.Header.Set("User-Agent", ui.UserAgentWithContext("Mirror"))

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch releases: %w", err)
	}
	defer iohelper.DrainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", backoff.Permanent(ErrNoReleases)
	case resp.StatusCode != http.StatusOK:
		body, _ := iohelper.ReadBodySmall(resp.Body)
		return "", fmt.Errorf("release API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := iohelper.ReadBodyDefault(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read release: %w", err)
	}

	var rel release
	if err := jsonutil.Unmarshal(body, &rel); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to parse release: %w", err))
	}
	if rel.TagName == "" {
		return "", backoff.Permanent(fmt.Errorf("release has no tag name"))
	}
	return rel.TagName, nil
}
