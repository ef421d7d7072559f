package transport

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned by a Conn when the remote path does not exist.
var ErrObjectNotFound = stderrors.New("object not found")

const defaultTimeout = 30 * time.Second

var utf8BOM = []byte("\xef\xbb\xbf")

// Entry is one item of a remote directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Client reads and writes whole JSON documents on the remote backend.
type Client interface {
	// ReadJSON returns the document at path, or nil when it is absent, empty
	// or not valid JSON.
	ReadJSON(ctx context.Context, path string) (json.RawMessage, error)
	// WriteJSON replaces the document at path, creating parent directories.
	WriteJSON(ctx context.Context, path string, value interface{}) error
	// List returns the entries of dir, empty when dir does not exist.
	List(ctx context.Context, dir string) ([]Entry, error)
	// Ping connects and makes sure the base directory exists.
	Ping(ctx context.Context) error
	// Backend names the backend kind.
	Backend() string
}

// Conn is a single backend session. It is used for one operation and closed.
// Every method must return once ctx is done; RemoteClient waits for it before
// releasing the scratch file and the caller's queue slot.
type Conn interface {
	Retrieve(ctx context.Context, path string, w io.Writer) error
	Store(ctx context.Context, path string, r io.Reader) error
	MakeDirAll(ctx context.Context, dir string) error
	List(ctx context.Context, dir string) ([]Entry, error)
	Close() error
}

// Dialer opens backend sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Name() string
}

// Options configures a RemoteClient.
type Options struct {
	// BaseDir is created by Ping.
	BaseDir string
	// Timeout bounds each operation including connection setup.
	Timeout time.Duration
	// Scratch holds the local temporary files used for transfers.
	Scratch    afero.Fs
	ScratchDir string
}

// RemoteClient implements Client on top of a Dialer. Every call opens its
// own session and stages the document in a local scratch file.
type RemoteClient struct {
	dialer     Dialer
	baseDir    string
	timeout    time.Duration
	scratch    afero.Fs
	scratchDir string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRemoteClient creates a client. m may be nil.
func NewRemoteClient(dialer Dialer, opts Options, m *metrics.Metrics, logger *zap.Logger) *RemoteClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Scratch == nil {
		opts.Scratch = afero.NewOsFs()
	}
	return &RemoteClient{
		dialer:     dialer,
		baseDir:    opts.BaseDir,
		timeout:    opts.Timeout,
		scratch:    opts.Scratch,
		scratchDir: opts.ScratchDir,
		metrics:    m,
		logger:     logger,
	}
}

// Backend implements Client
func (c *RemoteClient) Backend() string {
	return c.dialer.Name()
}

// ReadJSON implements Client
func (c *RemoteClient) ReadJSON(ctx context.Context, p string) (json.RawMessage, error) {
	start := time.Now()

	f, err := afero.TempFile(c.scratch, c.scratchDir, "km_read_*.json")
	if err != nil {
		return nil, errors.Internal("failed to create scratch file", err)
	}
	defer c.discard(f)

	err = c.withConn(ctx, func(ctx context.Context, conn Conn) error {
		return conn.Retrieve(ctx, p, f)
	})
	if stderrors.Is(err, ErrObjectNotFound) {
		c.metrics.RecordTransport("read", "absent", time.Since(start))
		return nil, nil
	}
	if err != nil {
		c.metrics.RecordTransport("read", "error", time.Since(start))
		return nil, c.wrap("read", p, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Internal("failed to rewind scratch file", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Internal("failed to read scratch file", err)
	}

	data = bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(data) == 0 {
		c.metrics.RecordTransport("read", "absent", time.Since(start))
		return nil, nil
	}
	if !json.Valid(data) {
		c.metrics.RecordTransport("read", "unparsable", time.Since(start))
		c.metrics.RecordUnparsableFile()
		c.logger.Error("Remote file is not valid JSON, reading it as absent",
			zap.String("path", p),
			zap.Int("size", len(data)))
		return nil, nil
	}

	c.metrics.RecordTransport("read", "ok", time.Since(start))
	return json.RawMessage(data), nil
}

// WriteJSON implements Client
func (c *RemoteClient) WriteJSON(ctx context.Context, p string, value interface{}) error {
	start := time.Now()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Internal(fmt.Sprintf("failed to encode %s", p), err)
	}
	data = append(data, '\n')

	f, err := afero.TempFile(c.scratch, c.scratchDir, "km_write_*.json")
	if err != nil {
		return errors.Internal("failed to create scratch file", err)
	}
	defer c.discard(f)

	if _, err := f.Write(data); err != nil {
		return errors.Internal("failed to write scratch file", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Internal("failed to rewind scratch file", err)
	}

	err = c.withConn(ctx, func(ctx context.Context, conn Conn) error {
		if err := conn.MakeDirAll(ctx, path.Dir(p)); err != nil {
			return fmt.Errorf("ensure dir: %w", err)
		}
		return conn.Store(ctx, p, f)
	})
	if err != nil {
		c.metrics.RecordTransport("write", "error", time.Since(start))
		return c.wrap("write", p, err)
	}

	c.metrics.RecordTransport("write", "ok", time.Since(start))
	c.logger.Debug("Wrote remote file",
		zap.String("path", p),
		zap.Int("bytes", len(data)),
		zap.Duration("latency", time.Since(start)))
	return nil
}

// List implements Client
func (c *RemoteClient) List(ctx context.Context, dir string) ([]Entry, error) {
	start := time.Now()

	var entries []Entry
	err := c.withConn(ctx, func(ctx context.Context, conn Conn) error {
		var err error
		entries, err = conn.List(ctx, dir)
		return err
	})
	if stderrors.Is(err, ErrObjectNotFound) {
		c.metrics.RecordTransport("list", "absent", time.Since(start))
		return []Entry{}, nil
	}
	if err != nil {
		c.metrics.RecordTransport("list", "error", time.Since(start))
		return nil, c.wrap("list", dir, err)
	}

	c.metrics.RecordTransport("list", "ok", time.Since(start))
	return entries, nil
}

// Ping implements Client
func (c *RemoteClient) Ping(ctx context.Context) error {
	start := time.Now()

	err := c.withConn(ctx, func(ctx context.Context, conn Conn) error {
		return conn.MakeDirAll(ctx, c.baseDir)
	})
	if err != nil {
		c.metrics.RecordTransport("ping", "error", time.Since(start))
		return c.wrap("ping", c.baseDir, err)
	}
	c.metrics.RecordTransport("ping", "ok", time.Since(start))
	return nil
}

// withConn runs fn on a fresh session bounded by the client timeout. fn runs
// on the calling goroutine, so nothing touches the session or the scratch file
// once withConn has returned.
func (c *RemoteClient) withConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, conn)
	if cerr := conn.Close(); cerr != nil {
		c.logger.Debug("Failed to close backend session", zap.Error(cerr))
	}
	if err != nil && ctx.Err() != nil && !stderrors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (c *RemoteClient) wrap(op, p string, err error) error {
	var se *errors.StoreError
	if stderrors.As(err, &se) {
		return err
	}
	return errors.Transport(op, p, err).WithDetail("backend", c.dialer.Name())
}

func (c *RemoteClient) discard(f afero.File) {
	name := f.Name()
	_ = f.Close()
	if err := c.scratch.Remove(name); err != nil {
		c.logger.Warn("Failed to remove scratch file", zap.String("file", name), zap.Error(err))
	}
}
