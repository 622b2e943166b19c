package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gtzirun/cloud/internal/history"
	"github.com/gtzirun/cloud/internal/metrics"
	"github.com/gtzirun/cloud/internal/process"
	"github.com/gtzirun/cloud/internal/streamkey"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultClientID    = "anonymous"
)

// Config holds the addresses and timings the supervisor derives relay
// commands from.
type Config struct {
	RelayServer      string // media server base, inbound address is RelayServer/<key>
	ThirdPartyBase   string // default destination prefix
	ThirdPartySecret string
	GracePeriod      time.Duration

	NewKey streamkey.Generator
	Now    func() time.Time
}

// Stream is the result of CreateStream.
type Stream struct {
	Key         string `json:"stream_key"`
	PushURL     string `json:"push_url"`
	Destination string `json:"third_party_url"`
}

// StreamStatus describes one registry entry. Destination is redacted.
type StreamStatus struct {
	Key         string          `json:"stream_key"`
	PushURL     string          `json:"push_url"`
	Destination string          `json:"destination,omitempty"`
	Running     bool            `json:"running"`
	Alive       bool            `json:"alive"`
	Process     *process.Status `json:"process,omitempty"`
	Usage       *metrics.Usage  `json:"usage,omitempty"`
}

// Supervisor orchestrates the registry and relay processes. Every
// operation is atomic per stream key; different keys run in parallel.
type Supervisor struct {
	cfg     Config
	reg     *Registry
	spawner Spawner
	logger  *slog.Logger
	history *history.Dispatcher
	closed  atomic.Bool
}

func NewSupervisor(cfg Config, spawner Spawner, logger *slog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		reg:     NewRegistry(cfg.NewKey),
		spawner: spawner,
		logger:  logger,
	}
}

// SetHistory routes lifecycle events to d. Must be called before use.
func (s *Supervisor) SetHistory(d *history.Dispatcher) { s.history = d }

// Registry exposes the underlying registry for read-only inspection.
func (s *Supervisor) Registry() *Registry { return s.reg }

// PushURL is the inbound address the publisher sends key's stream to.
func (s *Supervisor) PushURL(key string) string {
	return strings.TrimRight(s.cfg.RelayServer, "/") + "/" + key
}

// DefaultDestination builds the templated third-party address for key.
func (s *Supervisor) DefaultDestination(key, clientID string) string {
	if clientID == "" {
		clientID = DefaultClientID
	}
	q := url.Values{}
	q.Set("k", s.cfg.ThirdPartySecret)
	q.Set("t", fmt.Sprint(s.cfg.Now().Unix()))
	q.Set("t_id", clientID)
	return s.cfg.ThirdPartyBase + key + "?" + encodeOrdered(q, "k", "t", "t_id")
}

// encodeOrdered keeps the parameter order relay endpoints expect.
func encodeOrdered(q url.Values, keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q.Get(k)))
	}
	return strings.Join(parts, "&")
}

// CreateStream registers a new key with its default destination.
func (s *Supervisor) CreateStream(clientID string) (Stream, error) {
	if s.closed.Load() {
		return Stream{}, ErrClosed
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	key := s.reg.Create()
	dest := s.DefaultDestination(key, clientID)
	if err := s.reg.SetDestination(key, dest); err != nil {
		return Stream{}, err
	}
	metrics.IncCreated()
	s.logger.Info("stream created", "stream_key", key, "client_id", clientID)
	return Stream{Key: key, PushURL: s.PushURL(key), Destination: dest}, nil
}

// Destination returns the configured destination of key.
func (s *Supervisor) Destination(key string) (string, error) {
	return s.reg.Destination(key)
}

// ConfigureDestination stores dest for key. A running relay is stopped
// and relaunched against dest; between the two no relay is attached.
func (s *Supervisor) ConfigureDestination(ctx context.Context, key, dest string) error {
	if !s.reg.Exists(key) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidDestination)
	}
	unlock, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	prev, _ := s.reg.Destination(key)
	if err := s.reg.SetDestination(key, dest); err != nil {
		return err
	}
	s.logger.Info("destination configured", "stream_key", key, "destination", process.RedactURL(dest))

	old, err := s.reg.DetachHandle(key)
	if err != nil {
		return nil // not running
	}
	s.stopHandle(key, prev, old)
	h, err := s.spawnAndAttach(key, dest)
	if err != nil {
		return err
	}
	metrics.IncRestart()
	s.emit(history.EventRestart, key, dest, h, nil)
	return nil
}

// StartStream launches the relay for key against its current destination.
func (s *Supervisor) StartStream(ctx context.Context, key string) error {
	unlock, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	dest, err := s.reg.Destination(key)
	if err != nil {
		return err
	}
	if s.reg.HasHandle(key) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	h, err := s.spawnAndAttach(key, dest)
	if err != nil {
		return err
	}
	s.emit(history.EventStart, key, dest, h, nil)
	return nil
}

// StopStream detaches and stops the relay of key. A relay that needed a
// forced kill still counts as stopped.
func (s *Supervisor) StopStream(ctx context.Context, key string) error {
	unlock, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.reg.DetachHandle(key)
	if err != nil {
		return err
	}
	dest, _ := s.reg.Destination(key)
	s.stopHandle(key, dest, h)
	return nil
}

// Status reports the state of key.
func (s *Supervisor) Status(key string) (StreamStatus, error) {
	if !s.reg.Exists(key) {
		return StreamStatus{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	st := StreamStatus{Key: key, PushURL: s.PushURL(key)}
	if dest, err := s.reg.Destination(key); err == nil {
		st.Destination = process.RedactURL(dest)
	}
	if h, ok := s.reg.Handle(key); ok {
		snap := h.Snapshot()
		snap.Args = redactArgs(snap.Args)
		st.Running = true
		st.Alive = h.IsAlive()
		st.Process = &snap
		if st.Alive {
			if u, err := metrics.Sample(snap.PID); err == nil {
				st.Usage = &u
			}
		}
	}
	return st, nil
}

// List reports every stream ordered by key.
func (s *Supervisor) List() []StreamStatus {
	keys := s.reg.Keys()
	out := make([]StreamStatus, 0, len(keys))
	for _, k := range keys {
		if st, err := s.Status(k); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Shutdown rejects further operations and stops every attached relay in
// parallel. ctx bounds the wait for in-flight operations on each key; once
// it expires the relay is detached without the key lock, and an operation
// still spawning stops its own relay when it sees the supervisor closed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	var g errgroup.Group
	for _, key := range s.reg.Keys() {
		g.Go(func() error {
			unlock, err := s.reg.lock(ctx, key)
			if err != nil {
				s.logger.Warn("stopping relay without waiting for in-flight operation", "stream_key", key, "error", err)
			} else {
				defer unlock()
			}
			h, err := s.reg.DetachHandle(key)
			if err != nil {
				return nil // not running
			}
			dest, _ := s.reg.Destination(key)
			s.stopHandle(key, dest, h)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("supervisor shut down", "error", err)
	return err
}

// acquire takes the per-key lock and rejects work after Shutdown.
func (s *Supervisor) acquire(ctx context.Context, key string) (func(), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	unlock, err := s.reg.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		unlock()
		return nil, ErrClosed
	}
	return unlock, nil
}

func (s *Supervisor) spawnAndAttach(key, dest string) (Handle, error) {
	h, err := s.spawner.Spawn(key, s.PushURL(key), dest)
	if err != nil {
		metrics.IncSpawnFailure()
		s.logger.Error("relay spawn failed", "stream_key", key, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, key, err)
	}
	if err := s.reg.AttachHandle(key, h); err != nil {
		// unreachable while the key lock is held; never leak the process
		s.stopHandle(key, dest, h)
		return nil, err
	}
	metrics.IncStart()
	metrics.SetRunning(s.reg.Running())
	// Shutdown began while spawning and may have passed this key already.
	if s.closed.Load() {
		if detached, err := s.reg.DetachHandle(key); err == nil {
			s.stopHandle(key, dest, detached)
		}
		return nil, ErrClosed
	}
	return h, nil
}

// stopHandle tears down a detached handle that was publishing to dest.
// Errors are logged only.
func (s *Supervisor) stopHandle(key, dest string, h Handle) {
	begin := time.Now()
	outcome, err := h.Stop(s.cfg.GracePeriod)
	metrics.ObserveStopDuration(time.Since(begin).Seconds())
	metrics.IncStop(outcome.String())
	metrics.SetRunning(s.reg.Running())

	log := s.logger.With("stream_key", key, "pid", h.PID(), "outcome", outcome.String())
	switch {
	case err != nil:
		log.Error("relay stop failed", "error", err)
	case outcome == process.OutcomeKilled:
		log.Warn("relay stopped", "error", ErrTerminationTimeout)
	default:
		log.Info("relay stopped")
	}

	s.emit(history.EventStop, key, dest, h, &stopInfo{outcome: outcome, err: err})
}

type stopInfo struct {
	outcome process.StopOutcome
	err     error
}

func (s *Supervisor) emit(typ history.EventType, key, dest string, h Handle, stop *stopInfo) {
	if s.history == nil {
		return
	}
	snap := h.Snapshot()
	rec := history.Record{
		StreamKey:   key,
		PID:         snap.PID,
		Destination: process.RedactURL(dest),
		StartedAt:   snap.StartedAt,
	}
	if stop != nil {
		rec.StoppedAt = s.cfg.Now()
		rec.Outcome = stop.outcome.String()
		if stop.err != nil {
			rec.ExitErr = stop.err.Error()
		}
	}
	s.history.Emit(history.Event{Type: typ, OccurredAt: s.cfg.Now(), Record: rec})
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "://") {
			a = process.RedactURL(a)
		}
		out[i] = a
	}
	return out
}
