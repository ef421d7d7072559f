package transport

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"
)

// FTPConfig holds the FTP connection settings
type FTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// Secure enables explicit TLS (AUTH TLS).
	Secure bool
	// TLSRejectUnauthorized verifies the server certificate.
	TLSRejectUnauthorized bool
	// TLSInsecure skips certificate verification regardless of TLSRejectUnauthorized.
	TLSInsecure bool
	Timeout     time.Duration
}

// FTPDialer opens one FTP control connection per operation.
type FTPDialer struct {
	cfg    FTPConfig
	logger *zap.Logger
}

// NewFTPDialer creates an FTP dialer. Missing credentials are reported on Dial.
func NewFTPDialer(cfg FTPConfig, logger *zap.Logger) *FTPDialer {
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &FTPDialer{cfg: cfg, logger: logger}
}

// Name implements Dialer
func (d *FTPDialer) Name() string {
	return "ftp"
}

// Dial implements Dialer
func (d *FTPDialer) Dial(ctx context.Context) (Conn, error) {
	if d.cfg.Host == "" || d.cfg.User == "" || d.cfg.Password == "" {
		return nil, errors.Configuration("FTP configuration incomplete: FTP_HOST, FTP_USER and FTP_PASS are required")
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	var tlsCfg *tls.Config
	if d.cfg.Secure {
		tlsCfg = d.tlsConfig()
	}
	session := newSessionDeadline(ctx, d.cfg.Timeout, tlsCfg)
	opts := []ftp.DialOption{ftp.DialWithDialFunc(session.dial)}
	if tlsCfg != nil {
		opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
	}

	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		session.release()
		return nil, err
	}
	if err := c.Login(d.cfg.User, d.cfg.Password); err != nil {
		_ = c.Quit()
		session.release()
		return nil, err
	}

	d.logger.Debug("FTP session opened", zap.String("addr", addr), zap.Bool("secure", d.cfg.Secure))
	return &ftpConn{c: c, session: session}, nil
}

// sessionDeadline ties every socket of one FTP session, control and data,
// to the operation context. Sockets get the context deadline when dialed and
// expire at once when the context is cancelled, so a blocked Retr or Stor
// returns instead of outliving the operation.
//
// The ftp package hands data connections from a custom dial func back
// unwrapped, so with dataTLS set every dial after the control one is wrapped
// here. The control connection is upgraded by the package after AUTH TLS.
type sessionDeadline struct {
	ctx     context.Context
	dialer  net.Dialer
	dataTLS *tls.Config
	stop    func() bool

	mu    sync.Mutex
	conns []net.Conn
}

func newSessionDeadline(ctx context.Context, timeout time.Duration, dataTLS *tls.Config) *sessionDeadline {
	s := &sessionDeadline{ctx: ctx, dialer: net.Dialer{Timeout: timeout}, dataTLS: dataTLS}
	s.stop = context.AfterFunc(ctx, s.expire)
	return s
}

func (s *sessionDeadline) dial(network, addr string) (net.Conn, error) {
	conn, err := s.dialer.DialContext(s.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if d, ok := s.ctx.Deadline(); ok {
		if err := conn.SetDeadline(d); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	isData := len(s.conns) > 0
	s.conns = append(s.conns, conn)
	if s.ctx.Err() != nil {
		_ = conn.SetDeadline(time.Now())
	}
	if isData && s.dataTLS != nil {
		return tls.Client(conn, s.dataTLS), nil
	}
	return conn, nil
}

func (s *sessionDeadline) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.conns {
		_ = c.SetDeadline(now)
	}
}

func (s *sessionDeadline) release() {
	s.stop()
}

func (d *FTPDialer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         d.cfg.Host,
		InsecureSkipVerify: d.cfg.TLSInsecure || !d.cfg.TLSRejectUnauthorized,
		MinVersion:         tls.VersionTLS12,
	}
}

type ftpConn struct {
	c       *ftp.ServerConn
	session *sessionDeadline
}

func (f *ftpConn) Retrieve(ctx context.Context, p string, w io.Writer) error {
	r, err := f.c.Retr(p)
	if err != nil {
		if isFTPNotFound(err) {
			return ErrObjectNotFound
		}
		return err
	}

	_, copyErr := io.Copy(w, r)
	closeErr := r.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

func (f *ftpConn) Store(ctx context.Context, p string, r io.Reader) error {
	return f.c.Stor(p, r)
}

// MakeDirAll creates every missing component of dir. MKD fails on existing
// directories, so the result is checked by changing into dir.
func (f *ftpConn) MakeDirAll(ctx context.Context, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	cwd, err := f.c.CurrentDir()
	if err != nil {
		return err
	}

	prefix := ""
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		prefix += part
		_ = f.c.MakeDir(prefix)
		prefix += "/"
	}

	if err := f.c.ChangeDir(dir); err != nil {
		return err
	}
	return f.c.ChangeDir(cwd)
}

func (f *ftpConn) List(ctx context.Context, dir string) ([]Entry, error) {
	items, err := f.c.List(dir)
	if err != nil {
		if isFTPNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.Name == "." || item.Name == ".." {
			continue
		}
		entries = append(entries, Entry{Name: item.Name, IsDir: item.Type == ftp.EntryTypeFolder})
	}
	return entries, nil
}

func (f *ftpConn) Close() error {
	defer f.session.release()
	return f.c.Quit()
}

// isFTPNotFound reports a 550 reply.
func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	if stderrors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return strings.HasPrefix(err.Error(), "550")
}
