package terminal

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout   = 20 * time.Minute
	DefaultSweepInterval = 60 * time.Second
	DefaultMaxSessions   = 64
)

var errRegistryClosed = errors.New("registry is shut down")

// Options configures a Registry.
type Options struct {
	// IdleTimeout is how long a session may go without activity before it
	// is reclaimed. Zero expires sessions immediately; negative disables
	// idle reclamation.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	GracePeriod   time.Duration
	// MaxSessions caps live plus in-flight sessions. Zero means no limit.
	MaxSessions int
	BufferSize  int
	StripANSI   bool

	// AllowedCommands are doublestar patterns. Patterns containing a slash
	// match the resolved executable path, others match its base name.
	// Empty allows everything.
	AllowedCommands []string
	// Validate is an extra hook run before spawning. Errors that do not
	// already carry a kind are reported as ErrPermissionDenied.
	Validate func(Command) error

	Open     OpenFunc
	Logger   *zap.Logger
	Observer Observer
}

// DefaultOptions returns the documented defaults: 20 minute idle timeout,
// 60 second sweeps, 5 second grace, 64 sessions, 1 MiB buffers.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:   DefaultIdleTimeout,
		SweepInterval: DefaultSweepInterval,
		GracePeriod:   DefaultGracePeriod,
		MaxSessions:   DefaultMaxSessions,
		BufferSize:    DefaultBufferSize,
	}
}

// Registry owns the live sessions, keyed by caller-supplied id.
//
// mu guards only the maps. Session I/O and termination always happen after
// it is released.
type Registry struct {
	opts Options
	open OpenFunc
	log  *zap.Logger
	obs  Observer
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*creation
	retiring map[string]chan struct{}
	closed   bool

	idle  atomic.Int64
	strip atomic.Bool

	evictions  sync.WaitGroup
	started    atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
	reaperDone chan struct{}
}

// creation is an in-flight spawn other callers for the same id wait on.
type creation struct {
	done chan struct{}
	sess *Session
	err  error
}

// NewRegistry creates an empty registry. Call Start to run the reaper.
func NewRegistry(opts Options) *Registry {
	if opts.Open == nil {
		opts.Open = DefaultOpen
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	r := &Registry{
		opts:       opts,
		open:       opts.Open,
		log:        opts.Logger.Named("terminal"),
		obs:        opts.Observer,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		pending:    make(map[string]*creation),
		retiring:   make(map[string]chan struct{}),
		stop:       make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	r.idle.Store(int64(opts.IdleTimeout))
	r.strip.Store(opts.StripANSI)
	return r
}

// GetOrCreate returns the live session for id, touching it, or spawns cmd
// in a new one. A session that has exited or sat idle past the timeout is
// terminated and replaced once its child is dead. Concurrent callers for
// one id share a single spawn. A failed spawn registers nothing.
func (r *Registry) GetOrCreate(ctx context.Context, id string, cmd Command, size Size) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidConfig("create", id, "session id is required")
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, opError("create", id, ErrResourceLimit, errRegistryClosed)
		}

		if s, ok := r.sessions[id]; ok {
			reason, stale := s.expired(r.now(), r.IdleTimeout())
			if !stale {
				r.mu.Unlock()
				s.touch()
				return s, nil
			}
			terminate := r.retireLocked(s)
			r.mu.Unlock()

			r.log.Info("Replacing stale session", zap.String("session_id", id), zap.String("reason", string(reason)))
			terminate(reason)
			continue
		}

		if done, ok := r.retiring[id]; ok {
			r.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if c, ok := r.pending[id]; ok {
			r.mu.Unlock()
			select {
			case <-c.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if c.err != nil {
				return nil, c.err
			}
			return c.sess, nil
		}

		if limit := r.opts.MaxSessions; limit > 0 && len(r.sessions)+len(r.pending) >= limit {
			r.mu.Unlock()
			return nil, opError("create", id, ErrResourceLimit, errors.New("too many sessions"))
		}

		c := &creation{done: make(chan struct{})}
		r.pending[id] = c
		r.mu.Unlock()

		return r.create(id, cmd, size, c)
	}
}

// retireLocked unregisters s and returns the func that terminates it. Until
// that func returns, GetOrCreate for the same id waits instead of spawning
// next to a live child. r.mu must be held.
func (r *Registry) retireLocked(s *Session) func(Reason) {
	delete(r.sessions, s.ID)
	done := make(chan struct{})
	r.retiring[s.ID] = done

	return func(reason Reason) {
		s.Terminate(reason)

		r.mu.Lock()
		if r.retiring[s.ID] == done {
			delete(r.retiring, s.ID)
		}
		r.mu.Unlock()
		close(done)
	}
}

func (r *Registry) create(id string, cmd Command, size Size, c *creation) (*Session, error) {
	s, err := r.spawn(id, cmd, size)

	r.mu.Lock()
	delete(r.pending, id)
	closed := r.closed
	if err == nil && !closed {
		r.sessions[id] = s
	}
	r.mu.Unlock()

	if err == nil && closed {
		s.Terminate(ReasonKilled)
		s, err = nil, opError("create", id, ErrResourceLimit, errRegistryClosed)
	}

	c.sess, c.err = s, err
	close(c.done)
	if err != nil {
		r.log.Warn("Failed to create session", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	return s, nil
}

func (r *Registry) spawn(id string, cmd Command, size Size) (*Session, error) {
	if err := r.validate(cmd); err != nil {
		return nil, withSession(err, id)
	}
	h, err := r.open(cmd, size)
	if err != nil {
		return nil, withSession(err, id)
	}

	s := newSession(id, cmd, size, h, sessionConfig{
		bufferSize: r.opts.BufferSize,
		stripANSI:  r.strip.Load(),
		grace:      r.opts.GracePeriod,
		log:        r.log,
		obs:        r.obs,
	})
	s.start()
	return s, nil
}

func (r *Registry) validate(cmd Command) error {
	if strings.TrimSpace(cmd.Path) == "" {
		return opError("create", "", ErrInvalidCommand, errors.New("empty command"))
	}
	if len(r.opts.AllowedCommands) > 0 && !commandAllowed(r.opts.AllowedCommands, cmd.Path) {
		return opError("create", "", ErrPermissionDenied, errors.New("command not allowed: "+cmd.Path))
	}
	if r.opts.Validate != nil {
		if err := r.opts.Validate(cmd); err != nil {
			var opErr *OpError
			if errors.As(err, &opErr) {
				return err
			}
			return opError("create", "", ErrPermissionDenied, err)
		}
	}
	return nil
}

func commandAllowed(patterns []string, path string) bool {
	resolved := path
	if p, err := exec.LookPath(path); err == nil {
		resolved = p
	}
	base := filepath.Base(path)

	for _, pattern := range patterns {
		targets := []string{base}
		if strings.Contains(pattern, "/") {
			targets = []string{resolved, path}
		}
		for _, target := range targets {
			if ok, err := doublestar.Match(pattern, target); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	return r.lookup("get", id)
}

func (r *Registry) lookup(op, id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, notFound(op, id)
	}
	return s, nil
}

// Remove terminates and forgets the session under id. It reports whether a
// session was present; removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	terminate := r.retireLocked(s)
	r.mu.Unlock()

	terminate(ReasonKilled)
	return true
}

// Write sends text to the session under id.
func (r *Registry) Write(id, text string) error {
	s, err := r.lookup("write", id)
	if err != nil {
		return err
	}
	return r.settle(s, s.Write(text))
}

// SendKey sends a named key to the session under id.
func (r *Registry) SendKey(id, key string) error {
	s, err := r.lookup("send_key", id)
	if err != nil {
		return err
	}
	return r.settle(s, s.SendKey(key))
}

// WriteOrCreate sends text to the session under id, spawning cmd first when
// no session is registered. A registered session is never replaced here: one
// whose child exited reports ErrSessionTerminated.
func (r *Registry) WriteOrCreate(ctx context.Context, id, text string, cmd Command, size Size) error {
	return r.orCreate(ctx, "write", id, cmd, size, func(s *Session) error {
		return s.Write(text)
	})
}

// SendKeyOrCreate is SendKey with the creation rules of WriteOrCreate. An
// unknown key name spawns nothing.
func (r *Registry) SendKeyOrCreate(ctx context.Context, id, key string, cmd Command, size Size) error {
	if _, err := EncodeKey(key); err != nil {
		return withSession(err, id)
	}
	return r.orCreate(ctx, "send_key", id, cmd, size, func(s *Session) error {
		return s.SendKey(key)
	})
}

func (r *Registry) orCreate(ctx context.Context, op, id string, cmd Command, size Size, fn func(*Session) error) error {
	s, err := r.lookup(op, id)
	if errors.Is(err, ErrSessionNotFound) {
		s, err = r.GetOrCreate(ctx, id, cmd, size)
	}
	if err != nil {
		return err
	}
	return r.settle(s, fn(s))
}

// Read reads output from the session under id.
func (r *Registry) Read(id string, opts ReadOptions) (ReadResult, error) {
	s, err := r.lookup("read", id)
	if err != nil {
		return ReadResult{}, err
	}
	res, err := s.Read(opts)
	return res, r.settle(s, err)
}

// Resize resizes the session under id.
func (r *Registry) Resize(id string, rows, cols int) error {
	s, err := r.lookup("resize", id)
	if err != nil {
		return err
	}
	return r.settle(s, s.Resize(rows, cols))
}

// settle evicts s once an operation has observed it terminated, so the next
// call reports ErrSessionNotFound. A newer session under the same id is
// left alone.
func (r *Registry) settle(s *Session, err error) error {
	var te *TerminatedError
	if !errors.As(err, &te) {
		return err
	}

	r.mu.Lock()
	current, ok := r.sessions[s.ID]
	if !ok || current != s {
		r.mu.Unlock()
		return err
	}
	terminate := r.retireLocked(s)
	r.evictions.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.evictions.Done()
		terminate(te.Reason)
	}()
	return err
}

// List returns a snapshot of every session, sorted by id.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IdleTimeout returns the current idle timeout.
func (r *Registry) IdleTimeout() time.Duration {
	return time.Duration(r.idle.Load())
}

// SetIdleTimeout changes the idle timeout for every session, including
// existing ones.
func (r *Registry) SetIdleTimeout(d time.Duration) {
	r.idle.Store(int64(d))
}

// SetStripANSI changes whether sessions created from now on strip escape
// sequences.
func (r *Registry) SetStripANSI(strip bool) {
	r.strip.Store(strip)
}
