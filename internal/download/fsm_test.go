package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	blobmem "talaria/internal/blob/memstore"
	"talaria/internal/chunker"
	"talaria/internal/layout"
	"talaria/internal/sequence"
)

// fakeDoer serves a fixed payload from memory, honoring Range requests so
// resumption can be exercised without a real server.
type fakeDoer struct {
	mu      sync.Mutex
	payload []byte
	url     string
	calls   int
	onCall  func(req *http.Request)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(req)
	}

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

func fastaSourceFactory(artifactPath, decompressedPath string) (sequence.Source, error) {
	path := artifactPath
	if decompressedPath != "" {
		path = decompressedPath
	}
	return &rawFileSource{path: path}, nil
}

// rawFileSource treats the whole artifact as a single sequence. Stands in
// for the out-of-scope FASTA parser in tests.
type rawFileSource struct {
	path string
	done bool
}

func (r *rawFileSource) Next() (sequence.Sequence, bool, error) {
	if r.done {
		return sequence.Sequence{}, false, nil
	}
	r.done = true
	return sequence.Sequence{ID: "artifact", Residues: []byte("ACGTACGTACGT")}, true, nil
}

func TestStartDownloadRunsToComplete(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 16))
	doer := &fakeDoer{payload: payload}
	dir := layout.New(t.TempDir())

	d := New(Config{
		Dir:           dir,
		Client:        doer,
		Blobs:         blobmem.New(),
		SourceFactory: fastaSourceFactory,
		ChunkerConfig: chunker.Config{TargetChunkSize: 1 << 20},
	})

	state, err := d.StartDownload(context.Background(), "ws-1", "ncbi", "nr", "https://example.invalid/nr.fasta")
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if state.State != StateComplete {
		t.Fatalf("state = %q, want %q (error: %s)", state.State, StateComplete, state.Error)
	}
	if state.BytesDone != uint64(len(payload)) {
		t.Fatalf("BytesDone = %d, want %d", state.BytesDone, len(payload))
	}
	if state.TotalChunks == 0 {
		t.Fatal("expected at least one chunk to be processed")
	}
}

func TestResumeSendsRangeRequestForPartialDownload(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 16))
	partial := payload[:10]

	dir := layout.New(t.TempDir())
	ws, err := OpenWorkspace(dir, "ws-1", nil)
	if err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	if err := writeFileAtomic(ws.ArtifactPath(), partial, 0o640); err != nil {
		t.Fatalf("seed partial artifact: %v", err)
	}
	state := StateFile{
		WorkspaceID: "ws-1",
		Source:      "ncbi",
		Dataset:     "nr",
		State:       StateDownloading,
		URL:         "https://example.invalid/nr.fasta",
		BytesDone:   uint64(len(partial)),
		TotalBytes:  uint64(len(payload)),
		Tracking:    FileTracking{ArtifactPath: ws.ArtifactPath()},
	}
	if err := ws.SaveState(state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var sawRange string
	doer := &fakeDoer{
		payload: payload,
		onCall: func(req *http.Request) {
			if req.Method == http.MethodGet {
				sawRange = req.Header.Get("Range")
			}
		},
	}

	d := New(Config{
		Dir:           dir,
		Client:        doer,
		Blobs:         blobmem.New(),
		SourceFactory: fastaSourceFactory,
		ChunkerConfig: chunker.Config{TargetChunkSize: 1 << 20},
	})

	got, err := d.Resume(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.State != StateComplete {
		t.Fatalf("state = %q, want %q (error: %s)", got.State, StateComplete, got.Error)
	}
	if sawRange != "bytes="+strconv.Itoa(len(partial))+"-" {
		t.Fatalf("Range header = %q, want bytes=%d-", sawRange, len(partial))
	}
	if got.BytesDone != uint64(len(payload)) {
		t.Fatalf("BytesDone = %d, want %d", got.BytesDone, len(payload))
	}
}

func TestVerifyingRejectsChecksumMismatch(t *testing.T) {
	payload := []byte("ACGTACGT")
	doer := &fakeDoer{payload: payload}
	dir := layout.New(t.TempDir())

	d := New(Config{
		Dir:           dir,
		Client:        doer,
		Blobs:         blobmem.New(),
		SourceFactory: fastaSourceFactory,
		ChunkerConfig: chunker.Config{TargetChunkSize: 1 << 20},
	})

	ws, err := OpenWorkspace(dir, "ws-1", nil)
	if err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	state := StateFile{
		WorkspaceID:       "ws-1",
		Source:            "ncbi",
		Dataset:           "nr",
		State:             StateDownloading,
		URL:               "https://example.invalid/nr.fasta",
		ChecksumAlgorithm: "sha256",
		ExpectedChecksum:  "0000000000000000000000000000000000000000000000000000000000000000",
		Tracking:          FileTracking{ArtifactPath: ws.ArtifactPath()},
	}
	if err := ws.SaveState(state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	ws.Close()

	got, err := d.Resume(context.Background(), "ws-1")
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	if got.State != StateFailed {
		t.Fatalf("state = %q, want %q", got.State, StateFailed)
	}
}

func TestCheckForUpdateComparesContentLength(t *testing.T) {
	payload := []byte(strings.Repeat("x", 128))
	doer := &fakeDoer{payload: payload}
	dir := layout.New(t.TempDir())
	d := New(Config{Dir: dir, Client: doer})

	upToDate, total, err := d.CheckForUpdate(context.Background(), "https://example.invalid/nr.fasta", uint64(len(payload)))
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if !upToDate {
		t.Fatal("expected upToDate when knownTotalBytes matches the server's content length")
	}
	if total != uint64(len(payload)) {
		t.Fatalf("total = %d, want %d", total, len(payload))
	}

	upToDate, _, err = d.CheckForUpdate(context.Background(), "https://example.invalid/nr.fasta", uint64(len(payload)-1))
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if upToDate {
		t.Fatal("expected stale result when knownTotalBytes disagrees")
	}
}

func TestCancellationLeavesStateForResume(t *testing.T) {
	payload := []byte(strings.Repeat("ACGT", 4096))
	dir := layout.New(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doer := &fakeDoer{payload: payload}
	d := New(Config{
		Dir:           dir,
		Client:        doer,
		Blobs:         blobmem.New(),
		SourceFactory: fastaSourceFactory,
		ChunkerConfig: chunker.Config{TargetChunkSize: 1 << 20},
	})

	state, err := d.StartDownload(ctx, "ws-1", "ncbi", "nr", "https://example.invalid/nr.fasta")
	if err == nil {
		t.Fatal("expected StartDownload to report the cancellation")
	}
	if state.State == StateFailed {
		t.Fatal("cancellation should not be recorded as a Failed state")
	}
}
