package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/upstream"
)

// SyncOutcome classifies the result of a sync attempt.
type SyncOutcome string

const (
	// OutcomeUnchanged means the mirror already held the target version.
	OutcomeUnchanged SyncOutcome = "unchanged"

	// OutcomeUpdated means a new version was downloaded and swapped in.
	OutcomeUpdated SyncOutcome = "updated"

	// OutcomeFailed means the mirror was left exactly as it was.
	OutcomeFailed SyncOutcome = "failed"
)

// SyncResult reports what a sync attempt did. Err is set only for
// OutcomeFailed; failures are values here, the caller decides severity.
type SyncResult struct {
	Outcome SyncOutcome
	Version string
	Err     error
}

func unchanged(version string) SyncResult {
	return SyncResult{Outcome: OutcomeUnchanged, Version: version}
}

func updated(version string) SyncResult {
	return SyncResult{Outcome: OutcomeUpdated, Version: version}
}

func failed(err error) SyncResult {
	return SyncResult{Outcome: OutcomeFailed, Err: err}
}

// Fetcher converges the on-disk mirror to a requested corpus version.
// All visible mutation happens through a single atomic rename; a failed
// sync leaves the previous mirror untouched. The fetcher never retries;
// retry policy belongs to its caller.
type Fetcher struct {
	store   *Store
	client  upstream.Client
	timeout time.Duration
	log     *logrus.Entry
}

// NewFetcher returns a Fetcher. timeout bounds a whole sync attempt
// (download plus extraction); zero means no bound beyond the caller's
// context.
func NewFetcher(store *Store, client upstream.Client, timeout time.Duration) *Fetcher {
	return &Fetcher{
		store:   store,
		client:  client,
		timeout: timeout,
		log:     logrus.WithField("component", "mirror"),
	}
}

// SyncTo brings the mirror to the target version.
//
// Already at target with a readable marker: returns unchanged without
// touching the network. Otherwise the archive is downloaded and
// extracted into a staging tree next to the mirror, the marker is
// written into staging, and the staging tree is renamed over the mirror
// in one swap. Any failure discards staging and reports failed.
func (f *Fetcher) SyncTo(ctx context.Context, target string) SyncResult {
	target = upstream.NormalizeVersion(target)
	if target == "" {
		return failed(fmt.Errorf("empty target version"))
	}

	if cur, ok := f.store.Current(); ok && cur.Version == target {
		f.log.WithField("version", target).Debug("mirror already at target")
		return unchanged(target)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(f.store.Root(), 0o755); err != nil {
		return failed(fmt.Errorf("failed to create storage root: %w", err))
	}

	start := time.Now()

	archive, err := os.CreateTemp(f.store.Root(), defaults.MirrorDirName+".zip-*")
	if err != nil {
		return failed(fmt.Errorf("failed to create archive file: %w", err))
	}
	archivePath := archive.Name()
	archive.Close()
	defer os.Remove(archivePath)

	if err := f.client.FetchArchive(ctx, target, archivePath); err != nil {
		return failed(fmt.Errorf("fetch %s: %w", target, err))
	}

	staging, err := os.MkdirTemp(f.store.Root(), defaults.MirrorDirName+".stage-*")
	if err != nil {
		return failed(fmt.Errorf("failed to create staging dir: %w", err))
	}
	defer os.RemoveAll(staging)

	files, err := extractArchive(ctx, archivePath, staging)
	if err != nil {
		return failed(fmt.Errorf("extract %s: %w", target, err))
	}
	if files == 0 {
		return failed(fmt.Errorf("archive for %s contained no files", target))
	}

	if err := writeMarker(staging, VersionRecord{Version: target, AppliedAt: time.Now().UTC()}); err != nil {
		return failed(err)
	}

	if err := f.swapIn(staging); err != nil {
		return failed(fmt.Errorf("install %s: %w", target, err))
	}

	f.log.WithFields(logrus.Fields{
		"version":  target,
		"files":    files,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("mirror updated")
	return updated(target)
}

// swapIn replaces the mirror with the staging tree. The previous mirror
// is moved aside first and restored if the swap itself fails, so every
// observable state holds either the old tree or the new one.
func (f *Fetcher) swapIn(staging string) error {
	mirror := f.store.MirrorDir()
	displaced := fmt.Sprintf("%s.old-%d", mirror, time.Now().UnixNano())

	hadOld := true
	if err := os.Rename(mirror, displaced); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to displace old mirror: %w", err)
		}
		hadOld = false
	}

	if err := os.Rename(staging, mirror); err != nil {
		if hadOld {
			if rerr := os.Rename(displaced, mirror); rerr != nil {
				f.log.WithError(rerr).Error("failed to restore displaced mirror")
			}
		}
		return fmt.Errorf("failed to swap in staging: %w", err)
	}

	if hadOld {
		if err := os.RemoveAll(displaced); err != nil {
			f.log.WithError(err).Warn("failed to remove displaced mirror")
		}
	}
	return nil
}
