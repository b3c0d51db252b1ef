package download

import (
	"compress/gzip"
	"context"
	"crypto/md5"  //nolint:gosec // sibling checksum files may be published as md5, not used for content addressing
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"talaria/internal/blob"
	"talaria/internal/chunker"
	"talaria/internal/layout"
	"talaria/internal/logging"
	"talaria/internal/manifest"
	"talaria/internal/sequence"
	"talaria/internal/taxonomy"
)

// HTTPDoer is the subset of *http.Client the downloader depends on, so
// tests can substitute a fake transport without spinning up a server.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SourceFactory builds the sequence.Source the Processing stage chunks,
// given the paths of the finalized artifact and, if produced, its
// decompressed form. This is the same boundary sequence.Source already
// documents: an out-of-scope parser feeds it, the downloader never
// parses the artifact itself.
type SourceFactory func(artifactPath, decompressedPath string) (sequence.Source, error)

// Config configures a Downloader.
type Config struct {
	Dir    layout.Dir
	Client HTTPDoer

	// RateLimiter throttles the download reader, if set. Corresponds to
	// TALARIA_DOWNLOAD_RATE_LIMIT.
	RateLimiter *rate.Limiter

	Blobs         blob.Store
	Tree          *taxonomy.Tree
	ChunkerConfig chunker.Config
	SourceFactory SourceFactory

	// PreserveOnFailure carries into every StateFile this Downloader
	// writes; Failed states leave their tracked files on disk when set.
	PreserveOnFailure bool

	// Decompress forces Decompressing to eagerly gunzip a ".gz"
	// artifact instead of leaving the decision to the downstream
	// parser. Most callers leave this false, since Processing already
	// receives both paths and can stream-decompress itself.
	Decompress bool

	// CheckpointBytes is how often (in bytes written) the Downloading
	// stage persists progress to state.json. Defaults to 4 MiB.
	CheckpointBytes uint64

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.CheckpointBytes == 0 {
		c.CheckpointBytes = 4 << 20
	}
	return c
}

// Downloader runs the download state machine against workspaces rooted
// at Config.Dir.
type Downloader struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Downloader.
func New(cfg Config) *Downloader {
	cfg = cfg.withDefaults()
	return &Downloader{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "download"),
	}
}

// CheckForUpdate issues a HEAD request against url and reports whether
// its content length agrees with knownTotalBytes. A disagreement (or an
// unknown prior length of zero) means the caller should proceed with
// StartDownload; agreement means the dataset is already up to date.
func (d *Downloader) CheckForUpdate(ctx context.Context, url string, knownTotalBytes uint64) (upToDate bool, totalBytes uint64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, 0, fmt.Errorf("download: build HEAD request: %w", err)
	}
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("download: HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("download: HEAD %s: unexpected status %d", url, resp.StatusCode)
	}
	totalBytes = uint64(resp.ContentLength)
	return knownTotalBytes != 0 && knownTotalBytes == totalBytes, totalBytes, nil
}

// StartDownload opens a fresh workspace and runs it from Initializing
// through to Complete or Failed.
func (d *Downloader) StartDownload(ctx context.Context, workspaceID, source, dataset, url string) (StateFile, error) {
	ws, err := OpenWorkspace(d.cfg.Dir, workspaceID, d.cfg.Logger)
	if err != nil {
		return StateFile{}, err
	}
	defer ws.Close()

	state := StateFile{
		WorkspaceID:       workspaceID,
		Source:            source,
		Dataset:           dataset,
		State:             StateInitializing,
		URL:               url,
		PID:               os.Getpid(),
		PreserveOnFailure: d.cfg.PreserveOnFailure,
		Tracking:          FileTracking{ArtifactPath: ws.ArtifactPath()},
		UpdatedAt:         now(),
	}
	if err := ws.SaveState(state); err != nil {
		return StateFile{}, err
	}
	return d.run(ctx, ws, state)
}

// Resume reopens an existing workspace, verifies its on-disk files
// against the recorded state, and continues the run from wherever it
// left off.
func (d *Downloader) Resume(ctx context.Context, workspaceID string) (StateFile, error) {
	ws, err := OpenWorkspace(d.cfg.Dir, workspaceID, d.cfg.Logger)
	if err != nil {
		return StateFile{}, err
	}
	defer ws.Close()

	state, err := ws.LoadState()
	if err != nil {
		return StateFile{}, err
	}
	if state.State.Terminal() {
		return state, nil
	}
	if processAlive(state.PID) && state.PID != os.Getpid() {
		d.logger.Warn("resuming workspace whose recorded owner appears alive; the flock says otherwise and wins",
			"workspace_id", workspaceID, "recorded_pid", state.PID)
	}

	if err := ws.VerifyOnDisk(state); err != nil {
		d.logger.Warn("on-disk state stale, restarting download", "workspace_id", workspaceID, "error", err)
		state.State = StateInitializing
		state.BytesDone = 0
		state.TotalBytes = 0
		if rmErr := os.Remove(state.Tracking.ArtifactPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return StateFile{}, fmt.Errorf("download: remove stale artifact: %w", rmErr)
		}
	}

	return d.run(ctx, ws, state)
}

func (d *Downloader) run(ctx context.Context, ws *Workspace, state StateFile) (StateFile, error) {
	for !state.State.Terminal() {
		if err := ctx.Err(); err != nil {
			d.logger.Info("download interrupted, leaving state for resume", "workspace_id", ws.id, "state", state.State)
			return state, err
		}

		var err error
		switch state.State {
		case StateInitializing:
			state.State = StateDownloading
			err = ws.SaveState(state)
		case StateDownloading:
			err = d.runDownloading(ctx, ws, &state)
		case StateVerifying:
			err = d.runVerifying(ctx, ws, &state)
		case StateDecompressing:
			err = d.runDecompressing(ctx, ws, &state)
		case StateProcessing:
			err = d.runProcessing(ctx, ws, &state)
		case StateFinalizing:
			state.State = StateComplete
			err = ws.SaveState(state)
		default:
			err = fmt.Errorf("download: unknown state %q", state.State)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return state, err
			}
			state.State = StateFailed
			state.Error = err.Error()
			state.Recoverable = true
			state.FailedAt = now()
			_ = ws.SaveState(state)
			return state, err
		}
	}
	return state, nil
}

func (d *Downloader) runDownloading(ctx context.Context, ws *Workspace, state *StateFile) error {
	url := state.URL
	offset := state.BytesDone

	file, err := os.OpenFile(ws.ArtifactPath(), os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("download: open artifact: %w", err)
	}
	defer file.Close()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("download: build request: %w", err))
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := d.cfg.Client.Do(req)
		if err != nil {
			return fmt.Errorf("download: GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			if offset > 0 {
				// Server ignored the Range request; restart from scratch.
				if err := file.Truncate(0); err != nil {
					return backoff.Permanent(fmt.Errorf("download: truncate for restart: %w", err))
				}
				offset = 0
				state.BytesDone = 0
			}
		case http.StatusPartialContent:
			// Resuming as expected.
		default:
			err := fmt.Errorf("download: GET %s: unexpected status %d", url, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		total := totalFromResponse(resp, offset)
		if state.TotalBytes != 0 && total != 0 && total != state.TotalBytes {
			return backoff.Permanent(fmt.Errorf("%w: recorded %d, server reports %d", ErrTotalBytesMismatch, state.TotalBytes, total))
		}
		state.TotalBytes = total

		if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
			return backoff.Permanent(fmt.Errorf("download: seek artifact: %w", err))
		}

		reader := io.Reader(resp.Body)
		if d.cfg.RateLimiter != nil {
			reader = &rateLimitedReader{ctx: ctx, r: resp.Body, limiter: d.cfg.RateLimiter}
		}

		_, err = copyWithCheckpoints(file, reader, d.cfg.CheckpointBytes, func(n uint64) error {
			offset += n
			state.BytesDone = offset
			return ws.SaveState(*state)
		})
		if err != nil {
			return fmt.Errorf("download: stream body: %w", err)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}

	state.State = StateVerifying
	return ws.SaveState(*state)
}

func totalFromResponse(resp *http.Response, offset uint64) uint64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 && idx+1 < len(cr) {
			if n, err := strconv.ParseUint(cr[idx+1:], 10, 64); err == nil {
				return n
			}
		}
	}
	if resp.ContentLength < 0 {
		return 0
	}
	return offset + uint64(resp.ContentLength)
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// copyWithCheckpoints copies src into dst, invoking checkpoint after
// every checkpointBytes written (and once more at the end if any bytes
// remain unreported).
func copyWithCheckpoints(dst io.Writer, src io.Reader, checkpointBytes uint64, checkpoint func(uint64) error) (uint64, error) {
	buf := make([]byte, 32*1024)
	var total, sinceCheckpoint uint64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			total += uint64(n)
			sinceCheckpoint += uint64(n)
			if sinceCheckpoint >= checkpointBytes {
				if err := checkpoint(sinceCheckpoint); err != nil {
					return total, err
				}
				sinceCheckpoint = 0
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return total, readErr
		}
	}
	if sinceCheckpoint > 0 {
		if err := checkpoint(sinceCheckpoint); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *Downloader) runVerifying(ctx context.Context, ws *Workspace, state *StateFile) error {
	if state.ChecksumAlgorithm != "" {
		expected := state.ExpectedChecksum
		if expected == "" {
			fetched, err := d.fetchChecksum(ctx, state.URL, state.ChecksumAlgorithm)
			if err != nil {
				return err
			}
			expected = fetched
		}
		got, err := hashFile(ws.ArtifactPath(), state.ChecksumAlgorithm)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, expected) {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, expected)
		}
	}
	state.State = StateDecompressing
	return ws.SaveState(*state)
}

func (d *Downloader) fetchChecksum(ctx context.Context, url, algorithm string) (string, error) {
	ext := map[string]string{"sha256": ".sha256", "md5": ".md5"}[algorithm]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+ext, nil)
	if err != nil {
		return "", fmt.Errorf("download: build checksum request: %w", err)
	}
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: fetch checksum: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: fetch checksum: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("download: read checksum: %w", err)
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return "", fmt.Errorf("download: empty checksum file")
	}
	return fields[0], nil
}

func hashFile(path, algorithm string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("download: open artifact for checksum: %w", err)
	}
	defer f.Close()

	var h hash.Hash
	switch algorithm {
	case "sha256":
		h = sha256.New()
	case "md5":
		h = md5.New() //nolint:gosec // matching a publisher-supplied digest, not a security boundary
	default:
		return "", fmt.Errorf("download: unsupported checksum algorithm %q", algorithm)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("download: hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *Downloader) runDecompressing(ctx context.Context, ws *Workspace, state *StateFile) error {
	if d.cfg.Decompress && strings.HasSuffix(state.URL, ".gz") {
		if err := gunzipFile(ws.ArtifactPath(), ws.DecompressedPath()); err != nil {
			return err
		}
		state.Tracking.DecompressedPath = ws.DecompressedPath()
	}
	state.State = StateProcessing
	return ws.SaveState(*state)
}

func (d *Downloader) runProcessing(ctx context.Context, ws *Workspace, state *StateFile) error {
	if d.cfg.SourceFactory == nil {
		return fmt.Errorf("download: Processing requires a SourceFactory")
	}
	src, err := d.cfg.SourceFactory(ws.ArtifactPath(), state.Tracking.DecompressedPath)
	if err != nil {
		return fmt.Errorf("download: build sequence source: %w", err)
	}

	cfg := d.cfg.ChunkerConfig
	userOnChunk := cfg.OnChunk
	cfg.OnChunk = func(c manifest.Chunk) {
		state.ChunksDone++
		if userOnChunk != nil {
			userOnChunk(c)
		}
		if state.ChunksDone%64 == 0 {
			_ = ws.SaveState(*state)
		}
	}

	result, err := chunker.New(cfg, d.cfg.Blobs, d.cfg.Tree).Run(src)
	if err != nil {
		return fmt.Errorf("download: chunk artifact: %w", err)
	}
	state.ChunksDone = uint64(len(result.Chunks))
	state.TotalChunks = uint64(len(result.Chunks))

	state.State = StateFinalizing
	return ws.SaveState(*state)
}

func gunzipFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("download: open artifact for decompression: %w", err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("download: open gzip stream: %w", err)
	}
	defer gz.Close()

	dst, err := os.CreateTemp(filepath.Dir(dstPath), ".decompress-*")
	if err != nil {
		return fmt.Errorf("download: create decompression temp file: %w", err)
	}
	tmpPath := dst.Name()

	if _, err := io.Copy(dst, gz); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download: decompress: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download: close decompression temp file: %w", err)
	}
	return os.Rename(tmpPath, dstPath)
}

func now() time.Time { return time.Now().UTC() }
