package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"talaria/internal/chunker"
	"talaria/internal/chunkindex"
	"talaria/internal/download"
	"talaria/internal/manifest"
	"talaria/internal/selector"
	"talaria/internal/sequence"
)

func TestParseReference(t *testing.T) {
	cases := []struct {
		in      string
		want    Reference
		wantErr bool
	}{
		{in: "ncbi/nr", want: Reference{Source: "ncbi", Dataset: "nr"}},
		{in: "ncbi/nr@20260101_000000", want: Reference{Source: "ncbi", Dataset: "nr", Version: "20260101_000000"}},
		{in: "ncbi/nr:compact", want: Reference{Source: "ncbi", Dataset: "nr", Profile: "compact"}},
		{in: "ncbi/nr:compact@stable", want: Reference{Source: "ncbi", Dataset: "nr", Profile: "compact", Version: "stable"}},
		{in: "ncbi", wantErr: true},
		{in: "/nr", wantErr: true},
		{in: "ncbi/", wantErr: true},
	}
	for _, c := range cases {
		got, err := ParseReference(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseReference(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseReference(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseReference(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseCoordinate(t *testing.T) {
	if _, err := ParseCoordinate("2026-01-15"); err != nil {
		t.Errorf("date form: %v", err)
	}
	if _, err := ParseCoordinate("2026-01-15T10:30:00Z"); err != nil {
		t.Errorf("RFC3339 form: %v", err)
	}
	if _, err := ParseCoordinate("now"); err != nil {
		t.Errorf("now: %v", err)
	}
	if _, err := ParseCoordinate("today"); err != nil {
		t.Errorf("today: %v", err)
	}
	if _, err := ParseCoordinate("yesterday"); err != nil {
		t.Errorf("yesterday: %v", err)
	}
	if _, err := ParseCoordinate("not-a-date"); err == nil {
		t.Error("expected error for garbage input")
	}
}

// fakeDoer serves a fixed payload, honoring Range requests so resumption
// can be exercised without a real server.
type fakeDoer struct {
	mu      sync.Mutex
	payload []byte
	calls   int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if req.Method == http.MethodHead {
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(f.payload)),
			Body:          io.NopCloser(bytes.NewReader(nil)),
			Header:        http.Header{},
		}, nil
	}

	offset := 0
	if rng := req.Header.Get("Range"); rng != "" {
		var n int
		fmt.Sscanf(rng, "bytes=%d-", &n)
		offset = n
	}
	if offset >= len(f.payload) {
		offset = len(f.payload)
	}
	body := f.payload[offset:]
	status := http.StatusOK
	header := http.Header{}
	if offset > 0 {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(f.payload)-1, len(f.payload)))
	}
	return &http.Response{
		StatusCode:    status,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        header,
	}, nil
}

// fixedSource stands in for the out-of-scope FASTA parser: it always
// yields the same small, fixed sequence set regardless of the artifact
// bytes fed to it.
func fixedSourceFactory(artifactPath, decompressedPath string) (sequence.Source, error) {
	return sequence.NewSliceSource([]sequence.Sequence{
		{ID: "ref", Residues: []byte("ACGTACGTACGTACGTACGT")},
		{ID: "child1", Residues: []byte("ACGTACGTATGTACGTACGT")},
	}), nil
}

func newTestRepo(t *testing.T, doer download.HTTPDoer) *Repo {
	t.Helper()
	r, err := Open(t.TempDir(), Config{
		Chunker:          chunker.Config{TargetChunkSize: 1 << 20},
		ReferenceChunker: chunker.Config{TargetChunkSize: 1 << 20},
		Selector:         selector.Config{Algorithm: selector.AlgorithmSinglePass},
		HTTPClient:       doer,
		SourceFactory:    fixedSourceFactory,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestDownloadCommitsTemporalManifestAndMetadata(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	res, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{UpstreamVersion: "2026.01"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.UpToDate {
		t.Fatal("first download should not report up to date")
	}
	if res.Version == "" {
		t.Fatal("expected a generated version id")
	}

	ref := Reference{Source: "ncbi", Dataset: "nr"}
	hash, version, err := r.resolve(ref)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if version != res.Version {
		t.Fatalf("resolve returned version %q, want %q", version, res.Version)
	}
	if hash != res.TemporalHash {
		t.Fatalf("resolve returned hash %s, want %s", hash, res.TemporalHash)
	}

	md, err := r.readVersionMetadata("ncbi", "nr", version)
	if err != nil {
		t.Fatalf("readVersionMetadata: %v", err)
	}
	if md.UpstreamVersion != "2026.01" {
		t.Fatalf("UpstreamVersion = %q, want %q", md.UpstreamVersion, "2026.01")
	}
	if md.TotalBytes == 0 {
		t.Fatal("expected TotalBytes to be recorded")
	}
}

func TestDownloadSecondCallReportsUpToDate(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	doer := &fakeDoer{payload: payload}
	r := newTestRepo(t, doer)

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("first Download: %v", err)
	}

	res, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{})
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if !res.UpToDate {
		t.Fatal("second download of unchanged payload should report up to date")
	}
}

func TestDownloadUsesManifestServerForUpToDateCheck(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	doer := &fakeDoer{payload: payload}
	r := newTestRepo(t, doer)

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("first Download: %v", err)
	}

	curHash, err := r.manifests.Current(manifest.DatasetRef{Source: "ncbi", Dataset: "nr"})
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	current, err := r.manifests.GetTemporal(curHash)
	if err != nil {
		t.Fatalf("GetTemporal: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/ncbi/nr/current/manifest.json" {
			http.NotFound(w, req)
			return
		}
		_ = json.NewEncoder(w).Encode(current)
	}))
	defer server.Close()
	r.cfg.ManifestServer = server.URL
	// The manifest server lookup uses the configured HTTP client; the
	// downloader built at Open keeps the fake.
	r.cfg.HTTPClient = server.Client()

	headCallsBefore := doer.calls
	res, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{})
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if !res.UpToDate {
		t.Fatal("manifest server reporting an identical manifest should report up to date")
	}
	if doer.calls != headCallsBefore {
		t.Fatalf("expected manifest server check to short-circuit the HEAD request, got %d new calls", doer.calls-headCallsBefore)
	}
}

func TestExportStreamsFullDataset(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	var got []sequence.Sequence
	sink := &collectingSink{seqs: &got}
	if err := r.Export(Reference{Source: "ncbi", Dataset: "nr"}, ExportOptions{}, sink); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("exported %d sequences, want 2", len(got))
	}
}

type collectingSink struct {
	seqs *[]sequence.Sequence
}

func (c *collectingSink) Write(seq sequence.Sequence) error {
	*c.seqs = append(*c.seqs, seq)
	return nil
}

func TestReduceAndReconstructRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	ref := Reference{Source: "ncbi", Dataset: "nr"}
	edges := []selector.Edge{{Query: "child1", Reference: "ref", PercentIdentity: 0.95, Coverage: 0.95}}
	if _, err := r.Reduce(ref, ReduceOptions{Profile: "default", Edges: edges}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	profiled := ref
	profiled.Profile = "default"
	var got []sequence.Sequence
	sink := &collectingSink{seqs: &got}
	if err := r.Export(profiled, ExportOptions{}, sink); err != nil {
		t.Fatalf("Export with profile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reconstructed %d sequences, want 2", len(got))
	}
}

func TestReduceIndexesReferenceChunks(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	before := len(r.chunkIndex.RangeQuery(chunkindex.Range{ReferenceOnly: true}))
	if before != 0 {
		t.Fatalf("expected no reference chunks before reduction, got %d", before)
	}

	ref := Reference{Source: "ncbi", Dataset: "nr"}
	edges := []selector.Edge{{Query: "child1", Reference: "ref", PercentIdentity: 0.95, Coverage: 0.95}}
	result, err := r.Reduce(ref, ReduceOptions{Profile: "default", Edges: edges})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(result.Reduction.ReferenceChunks) == 0 {
		t.Fatal("expected at least one reference chunk")
	}

	refChunks := r.chunkIndex.RangeQuery(chunkindex.Range{ReferenceOnly: true})
	if len(refChunks) != len(result.Reduction.ReferenceChunks) {
		t.Fatalf("chunk index has %d reference chunks, want %d", len(refChunks), len(result.Reduction.ReferenceChunks))
	}
	for _, hash := range result.Reduction.ReferenceChunks {
		md, ok := r.chunkIndex.ByHash(hash)
		if !ok {
			t.Fatalf("reference chunk %s missing from chunk index", hash)
		}
		if !md.IsReference {
			t.Fatalf("reference chunk %s not marked IsReference", hash)
		}
	}
}

func TestVerifyReportsNoViolationsOnFreshDownload(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	report, err := r.Verify(VerifyScope{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Verify found violations: %+v", report)
	}
}

func TestGCLeavesLiveBlobsAlone(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	report, err := r.GC(time.Hour)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if report.RemovedBlobs != 0 {
		t.Fatalf("GC removed %d live blobs, want 0", report.RemovedBlobs)
	}

	stillThere, err := r.Verify(VerifyScope{SkipTaxonomy: true})
	if err != nil {
		t.Fatalf("Verify after GC: %v", err)
	}
	if !stillThere.OK() {
		t.Fatalf("Verify found violations after GC: %+v", stillThere)
	}
}

func TestGCRemovesOrphanFromChunkIndex(t *testing.T) {
	r := newTestRepo(t, &fakeDoer{})

	orphan := []byte("an orphan blob nothing references")
	hash, err := r.blobs.Put(orphan, false)
	if err != nil {
		t.Fatalf("Put orphan blob: %v", err)
	}
	r.chunkIndex.Put(manifest.Chunk{Hash: hash, Size: uint64(len(orphan)), SequenceCount: 1})
	if r.chunkIndex.Len() != 1 {
		t.Fatalf("chunkIndex.Len() = %d, want 1", r.chunkIndex.Len())
	}

	report, err := r.GC(0)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if report.RemovedBlobs != 1 {
		t.Fatalf("GC removed %d blobs, want 1", report.RemovedBlobs)
	}
	if _, ok := r.chunkIndex.ByHash(hash); ok {
		t.Fatal("expected orphan chunk removed from chunk index after GC")
	}
}

const testNodesDmp = "1\t|\t1\t|\tno rank\t|\n" +
	"2\t|\t1\t|\tsuperkingdom\t|\n"

const testNamesDmp = "1\t|\troot\t|\t\t|\tscientific name\t|\n" +
	"2\t|\tBacteria\t|\t\t|\tscientific name\t|\n"

func writeTaxonomyFixture(t *testing.T) (nodesPath, namesPath string) {
	t.Helper()
	dir := t.TempDir()
	nodesPath = filepath.Join(dir, "nodes.dmp")
	namesPath = filepath.Join(dir, "names.dmp")
	if err := os.WriteFile(nodesPath, []byte(testNodesDmp), 0o644); err != nil {
		t.Fatalf("write nodes.dmp fixture: %v", err)
	}
	if err := os.WriteFile(namesPath, []byte(testNamesDmp), 0o644); err != nil {
		t.Fatalf("write names.dmp fixture: %v", err)
	}
	return nodesPath, namesPath
}

func TestLoadTaxonomyPersistsAcrossReopen(t *testing.T) {
	home := t.TempDir()
	nodesPath, namesPath := writeTaxonomyFixture(t)

	r, err := Open(home, Config{SourceFactory: fixedSourceFactory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.LoadTaxonomy(nodesPath, namesPath); err != nil {
		t.Fatalf("LoadTaxonomy: %v", err)
	}
	if r.tree == nil {
		t.Fatal("expected tree to be set after LoadTaxonomy")
	}
	firstRoot := r.taxonomyRoot
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(home, Config{SourceFactory: fixedSourceFactory})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	if reopened.tree == nil {
		t.Fatal("expected reopened repository to restore a persisted taxonomy tree")
	}
	if reopened.taxonomyRoot != firstRoot {
		t.Fatalf("taxonomy root changed across reopen: %s != %s", reopened.taxonomyRoot, firstRoot)
	}
	name, err := reopened.tree.Name(2)
	if err != nil {
		t.Fatalf("Name(2): %v", err)
	}
	if name != "Bacteria" {
		t.Fatalf("Name(2) = %q, want %q", name, "Bacteria")
	}
}

func TestOpenWithoutLoadTaxonomyLeavesTreeNil(t *testing.T) {
	r := newTestRepo(t, &fakeDoer{})
	if r.tree != nil {
		t.Fatal("expected no taxonomy tree without a prior LoadTaxonomy call")
	}
}

func TestStatsReportsChunkCount(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 64))
	r := newTestRepo(t, &fakeDoer{payload: payload})

	if _, err := r.Download(context.Background(), "ncbi", "nr", "https://example.invalid/nr.fasta", DownloadOptions{}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	stats, err := r.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ChunkCount == 0 {
		t.Fatal("expected at least one chunk")
	}
}
