package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"talaria/internal/manifest"
)

// fetchRemoteManifest retrieves the current temporal manifest a remote
// manifest server publishes for (source, dataset), per the
// <server>/<source>/<dataset>/current/manifest.json contract.
func fetchRemoteManifest(ctx context.Context, client httpDoer, base, source, dataset string) (manifest.Temporal, error) {
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(source) + "/" + url.PathEscape(dataset) + "/current/manifest.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return manifest.Temporal{}, fmt.Errorf("repo: build manifest server request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return manifest.Temporal{}, fmt.Errorf("repo: GET %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return manifest.Temporal{}, fmt.Errorf("repo: GET %s: unexpected status %d", u, resp.StatusCode)
	}
	var tm manifest.Temporal
	if err := json.NewDecoder(resp.Body).Decode(&tm); err != nil {
		return manifest.Temporal{}, fmt.Errorf("repo: decode manifest server response from %s: %w", u, err)
	}
	return tm, nil
}

// httpDoer is the HTTP client dependency manifest server lookups need;
// *http.Client and download.HTTPDoer both satisfy it.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// chunkEqualityKey is the (chunk_hash, sequence_count) pair two temporal
// manifests are compared by, per the manifest server contract: manifests
// are identical iff these multisets match, regardless of chunk order or
// any other field.
func chunkEqualityKey(c manifest.Chunk) string {
	return c.Hash.String() + "|" + strconv.FormatUint(uint64(c.SequenceCount), 10)
}

// sameManifest reports whether a and b describe the same multiset of
// (chunk_hash, sequence_count) pairs.
func sameManifest(a, b manifest.Temporal) bool {
	if len(a.ChunkIndex) != len(b.ChunkIndex) {
		return false
	}
	counts := make(map[string]int, len(a.ChunkIndex))
	for _, c := range a.ChunkIndex {
		counts[chunkEqualityKey(c)]++
	}
	for _, c := range b.ChunkIndex {
		key := chunkEqualityKey(c)
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}

// checkManifestServer compares the locally known current manifest for
// dsRef against the one a configured remote manifest server reports.
// checked is false when the comparison couldn't be made (no local
// manifest yet, or the server was unreachable), in which case the caller
// should fall back to its own update check.
func (r *Repo) checkManifestServer(ctx context.Context, dsRef manifest.DatasetRef) (upToDate bool, checked bool) {
	if r.cfg.ManifestServer == "" {
		return false, false
	}
	curHash, err := r.manifests.Current(dsRef)
	if err != nil {
		return false, false
	}
	local, err := r.manifests.GetTemporal(curHash)
	if err != nil {
		r.logger.Error("load current temporal manifest for update check", "error", err)
		return false, false
	}

	client := r.cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	remote, err := fetchRemoteManifest(ctx, client, r.cfg.ManifestServer, dsRef.Source, dsRef.Dataset)
	if err != nil {
		r.logger.Warn("manifest server check failed, falling back to local comparison", "error", err)
		return false, false
	}
	return sameManifest(local, remote), true
}
