package corpus

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen0sec/wafrules-mcp/pkg/upstream"
)

// buildZip assembles an in-memory ZIP with the given entries. Entries
// are written in sorted order so archives are reproducible.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// corpusZip wraps files in the single top-level directory GitHub tag
// archives use.
func corpusZip(t *testing.T, version string, files map[string]string) []byte {
	t.Helper()
	wrapped := make(map[string]string, len(files))
	for name, content := range files {
		wrapped["nuclei-templates-"+version+"/"+name] = content
	}
	return buildZip(t, wrapped)
}

// fakeUpstream is an upstream.Client backed by in-memory archives.
type fakeUpstream struct {
	archives   map[string][]byte
	fetchErr   error
	fetchDelay time.Duration
	latest     string
	latestErr  error
	fetchCalls atomic.Int32
}

func (c *fakeUpstream) FetchArchive(ctx context.Context, version, dest string) error {
	c.fetchCalls.Add(1)
	if c.fetchDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.fetchDelay):
		}
	}
	if c.fetchErr != nil {
		return c.fetchErr
	}
	data, ok := c.archives[version]
	if !ok {
		return upstream.ErrVersionNotFound
	}
	return os.WriteFile(dest, data, 0o644)
}

func (c *fakeUpstream) LatestVersion(ctx context.Context) (string, error) {
	if c.latestErr != nil {
		return "", c.latestErr
	}
	return c.latest, nil
}

var sampleFiles = map[string]string{
	"http/cves/2021/CVE-2021-44228.yaml": "id: CVE-2021-44228\ninfo:\n  name: Log4Shell\n",
	"http/cves/2023/CVE-2023-1234.yaml":  "id: CVE-2023-1234\ninfo:\n  name: Sample\n",
	"README.md":                          "# corpus\n",
}

func newTestFetcher(t *testing.T, client upstream.Client) (*Fetcher, *Store) {
	t.Helper()
	store := NewStore(t.TempDir())
	return NewFetcher(store, client, 5*time.Second), store
}

func TestSyncToFreshMirror(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
	}}
	f, store := newTestFetcher(t, client)

	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, "v10.3.5", res.Version)
	require.NoError(t, res.Err)

	// Marker published with the content.
	rec, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "v10.3.5", rec.Version)
	assert.False(t, rec.AppliedAt.IsZero())

	// Top-level archive directory collapsed away.
	data, err := os.ReadFile(filepath.Join(store.MirrorDir(), "http/cves/2021/CVE-2021-44228.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Log4Shell")
}

func TestSyncToIdempotent(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
	}}
	f, _ := newTestFetcher(t, client)

	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "v10.3.5").Outcome)
	require.Equal(t, OutcomeUnchanged, f.SyncTo(context.Background(), "v10.3.5").Outcome)

	// The second call must not touch the network.
	assert.Equal(t, int32(1), client.fetchCalls.Load())
}

func TestSyncToNormalizesTarget(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
	}}
	f, _ := newTestFetcher(t, client)

	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "10.3.5").Outcome)
	res := f.SyncTo(context.Background(), "V10.3.5")
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, "v10.3.5", res.Version)
	assert.Equal(t, int32(1), client.fetchCalls.Load())
}

func TestSyncToEmptyTarget(t *testing.T) {
	f, _ := newTestFetcher(t, &fakeUpstream{})
	res := f.SyncTo(context.Background(), "  ")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestSyncToUpgradeReplacesMirror(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
		"v10.4.0": corpusZip(t, "10.4.0", map[string]string{
			"http/cves/2024/CVE-2024-9999.yaml": "id: CVE-2024-9999\ninfo:\n  name: Newer\n",
		}),
	}}
	f, store := newTestFetcher(t, client)

	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "v10.3.5").Outcome)
	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "v10.4.0").Outcome)

	rec, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "v10.4.0", rec.Version)

	// Old content fully replaced, not merged.
	_, err := os.Stat(filepath.Join(store.MirrorDir(), "http/cves/2021/CVE-2021-44228.yaml"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(store.MirrorDir(), "http/cves/2024/CVE-2024-9999.yaml"))
	assert.NoError(t, err)
}

func TestSyncToFailurePreservesMirror(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
		"v10.4.0": []byte("this is not a zip archive"),
	}}
	f, store := newTestFetcher(t, client)

	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "v10.3.5").Outcome)

	res := f.SyncTo(context.Background(), "v10.4.0")
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)

	// The previous mirror is untouched.
	rec, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "v10.3.5", rec.Version)
	data, err := os.ReadFile(filepath.Join(store.MirrorDir(), "http/cves/2021/CVE-2021-44228.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Log4Shell")

	assertNoTransientArtifacts(t, store)
}

func TestSyncToDownloadErrorDiscardsStaging(t *testing.T) {
	client := &fakeUpstream{fetchErr: errors.New("connection reset")}
	f, store := newTestFetcher(t, client)

	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "connection reset")

	_, ok := store.Current()
	assert.False(t, ok)
	assertNoTransientArtifacts(t, store)
}

func TestSyncToVersionNotFound(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{}}
	f, _ := newTestFetcher(t, client)

	res := f.SyncTo(context.Background(), "v0.0.1")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, upstream.ErrVersionNotFound)
	// One attempt, no internal retry.
	assert.Equal(t, int32(1), client.fetchCalls.Load())
}

func TestSyncToHonorsTimeout(t *testing.T) {
	client := &fakeUpstream{
		archives:   map[string][]byte{"v10.3.5": corpusZip(t, "10.3.5", sampleFiles)},
		fetchDelay: 500 * time.Millisecond,
	}
	store := NewStore(t.TempDir())
	f := NewFetcher(store, client, 50*time.Millisecond)

	start := time.Now()
	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assertNoTransientArtifacts(t, store)
}

func TestSyncToHonorsCancellation(t *testing.T) {
	client := &fakeUpstream{
		archives:   map[string][]byte{"v10.3.5": corpusZip(t, "10.3.5", sampleFiles)},
		fetchDelay: 500 * time.Millisecond,
	}
	f, store := newTestFetcher(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := f.SyncTo(ctx, "v10.3.5")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assertNoTransientArtifacts(t, store)
}

func TestSyncToCorruptMarkerForcesResync(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": corpusZip(t, "10.3.5", sampleFiles),
	}}
	f, store := newTestFetcher(t, client)

	require.Equal(t, OutcomeUpdated, f.SyncTo(context.Background(), "v10.3.5").Outcome)

	// Corrupt the marker: the tree can no longer be trusted.
	require.NoError(t, os.WriteFile(markerPath(store.MirrorDir()), []byte("garbage"), 0o644))

	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, int32(2), client.fetchCalls.Load())

	rec, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "v10.3.5", rec.Version)
}

func TestSyncToEmptyArchive(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": buildZip(t, map[string]string{}),
	}}
	f, store := newTestFetcher(t, client)

	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "no files")
	assertNoTransientArtifacts(t, store)
}

func TestSyncToZipSlipFails(t *testing.T) {
	client := &fakeUpstream{archives: map[string][]byte{
		"v10.3.5": buildZip(t, map[string]string{
			"nuclei-templates-10.3.5/ok.yaml":      "id: ok\ninfo:\n  name: ok\n",
			"nuclei-templates-10.3.5/../../escape": "bad",
		}),
	}}
	f, store := newTestFetcher(t, client)

	res := f.SyncTo(context.Background(), "v10.3.5")
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "escapes extraction root")

	_, err := os.Stat(filepath.Join(store.Root(), "..", "escape"))
	assert.True(t, os.IsNotExist(err))
	assertNoTransientArtifacts(t, store)
}

// assertNoTransientArtifacts verifies nothing besides the mirror
// remains under the storage root.
func assertNoTransientArtifacts(t *testing.T, store *Store) {
	t.Helper()
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, "nuclei-templates", entry.Name(),
			"unexpected artifact left behind: %s", entry.Name())
	}
}
