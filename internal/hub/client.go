package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/schollz/progressbar/v3"

	"github.com/samcharles93/textgen/internal/logger"
	"github.com/samcharles93/textgen/internal/version"
)

const (
	DefaultEndpoint       = "https://huggingface.co"
	DefaultRevision       = "main"
	DefaultMaxRetries     = 4
	DefaultInitialBackoff = 500 * time.Millisecond

	// checksumSuffix names the xxhash64 sidecar stored next to each file.
	checksumSuffix = ".xxh64"
)

var ErrNotFound = errors.New("hub: file not found")

// StatusError is a non-2xx response from the hub.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("hub: GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client downloads repository files into a local cache laid out as
// <CacheDir>/<repo>/<revision>/<file>.
type Client struct {
	Endpoint       string
	Token          string
	CacheDir       string
	MaxRetries     int
	InitialBackoff time.Duration
	// Progress receives a progress bar per download. Nil disables it.
	Progress   io.Writer
	HTTPClient *http.Client
	Logger     logger.Logger
}

// NewClient reads HF_TOKEN and HF_ENDPOINT from the environment.
func NewClient(cacheDir string) *Client {
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:       endpoint,
		Token:          os.Getenv("HF_TOKEN"),
		CacheDir:       cacheDir,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
	}
}

// CachePath is where Fetch stores file.
func (c *Client) CachePath(repo, revision, file string) (string, error) {
	if err := validateRef(repo, revision, file); err != nil {
		return "", err
	}
	if c.CacheDir == "" {
		return "", fmt.Errorf("hub: cache dir is required")
	}
	return filepath.Join(c.CacheDir, filepath.FromSlash(repo), revision, filepath.FromSlash(file)), nil
}

// Fetch returns the local path of file, downloading it on a cache miss or
// when the cached copy fails its checksum.
func (c *Client) Fetch(ctx context.Context, repo, revision, file string) (string, error) {
	if revision == "" {
		revision = DefaultRevision
	}
	dst, err := c.CachePath(repo, revision, file)
	if err != nil {
		return "", err
	}
	log := c.log().With("repo", repo, "revision", revision, "file", file)

	ok, err := verifyCached(dst)
	if err != nil {
		return "", err
	}
	if ok {
		log.Debug("cache hit", "path", dst)
		return dst, nil
	}

	rawURL, err := c.fileURL(repo, revision, file)
	if err != nil {
		return "", err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.download(ctx, rawURL, dst, file)
		if err != nil && attempt <= c.maxRetries() {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				log.Warn("download failed, retrying", "attempt", attempt, "error", err)
			}
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff()
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries())), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("fetch %s/%s@%s: %w", repo, file, revision, err)
	}
	log.Info("downloaded", "path", dst, "attempts", attempt)
	return dst, nil
}

func (c *Client) download(ctx context.Context, rawURL, dst, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{Code: resp.StatusCode, URL: rawURL, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(serr)
		}
		return serr
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return backoff.Permanent(fmt.Errorf("create cache dir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := xxhash.New()
	writers := []io.Writer{tmp, h}
	if c.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(c.Progress),
			progressbar.OptionSetDescription(label),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(c.Progress) }),
		)
		defer bar.Close()
		writers = append(writers, bar)
	}

	n, err := io.Copy(io.MultiWriter(writers...), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return backoff.Permanent(fmt.Errorf("move into cache: %w", err))
	}
	return writeChecksum(dst, h.Sum64())
}

func (c *Client) fileURL(repo, revision, file string) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.endpoint(), "/"))
	if err != nil {
		return "", fmt.Errorf("hub: bad endpoint: %w", err)
	}
	base.Path = path.Join(base.Path, repo, "resolve", revision, file)
	return base.String(), nil
}

func (c *Client) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *Client) maxRetries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}

func (c *Client) initialBackoff() time.Duration {
	if c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) log() logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Discard()
}

func validateRef(repo, revision, file string) error {
	if strings.TrimSpace(repo) == "" {
		return fmt.Errorf("hub: repo is required")
	}
	if strings.TrimSpace(file) == "" {
		return fmt.Errorf("hub: file is required")
	}
	for _, part := range []string{repo, revision, file} {
		for _, seg := range strings.Split(part, "/") {
			if seg == ".." {
				return fmt.Errorf("hub: path %q escapes the cache", part)
			}
		}
		if strings.HasPrefix(part, "/") {
			return fmt.Errorf("hub: path %q must be relative", part)
		}
	}
	return nil
}

// verifyCached reports whether path exists and matches its sidecar. A file
// without a sidecar is trusted and the sidecar is written.
func verifyCached(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	sum, err := hashFile(path)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path + checksumSuffix)
	if os.IsNotExist(err) {
		return true, writeChecksum(path, sum)
	}
	if err != nil {
		return false, err
	}
	want, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 64)
	if err != nil || want != sum {
		return false, nil
	}
	return true, nil
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func writeChecksum(path string, sum uint64) error {
	return os.WriteFile(path+checksumSuffix, []byte(fmt.Sprintf("%016x\n", sum)), 0o644)
}
