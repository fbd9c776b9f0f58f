package smartslydr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is the single cloud session for one account: token store, client
// and coordinator, built once and passed to whatever needs them.
type Session struct {
	cfg         Config
	tokens      *TokenStore
	client      *Client
	coordinator *Coordinator
	logger      zerolog.Logger

	mu      sync.Mutex
	covers  map[string]*Cover
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("smartslydr username and password are required")
	}

	tokens := NewTokenStore(cfg.Username, cfg.Password)
	client, err := NewClient(cfg, tokens)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:         cfg,
		tokens:      tokens,
		client:      client,
		coordinator: NewCoordinator(client, cfg.SyncInterval),
		logger:      log.With().Str("plugin", "smartslydr").Logger(),
		covers:      make(map[string]*Cover),
	}
	s.coordinator.OnConfirm(s.pruneCovers)
	return s, nil
}

func (s *Session) Client() *Client {
	return s.client
}

func (s *Session) Coordinator() *Coordinator {
	return s.coordinator
}

// Start authenticates, requires the first poll to succeed and then keeps
// polling in the background until Close or ctx is done. Nothing is exposed
// if either step fails.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("smartslydr session already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.gate(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.coordinator.Run(runCtx)
	}()

	s.logger.Info().
		Int("devices", len(s.coordinator.Devices())).
		Dur("interval", s.coordinator.Interval()).
		Msg("smartslydr session started")
	return nil
}

// gate authenticates and runs the first poll.
func (s *Session) gate(ctx context.Context) error {
	if err := s.client.authenticate(ctx); err != nil {
		s.client.logFailure("auth", err)
		if IsAuthError(err) {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	if err := s.coordinator.Refresh(ctx); err != nil {
		return fmt.Errorf("initial poll: %w", err)
	}
	return nil
}

// pruneCovers releases views of devices that are no longer on the account.
func (s *Session) pruneCovers(devices Devices) {
	s.mu.Lock()
	var gone []*Cover
	for id, cover := range s.covers {
		if _, ok := devices[id]; !ok {
			gone = append(gone, cover)
			delete(s.covers, id)
		}
	}
	s.mu.Unlock()

	for _, cover := range gone {
		s.logger.Info().Str("device_id", cover.ID()).Msg("device left the account")
		cover.Release()
	}
}

// Cover returns the device view for id. The device must be in the cache.
func (s *Session) Cover(id string) (*Cover, error) {
	if _, ok := s.coordinator.Device(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cover, ok := s.covers[id]; ok {
		return cover, nil
	}
	cover := NewCover(id, s.client, s.coordinator)
	s.covers[id] = cover
	return cover, nil
}

// Covers returns one device view per cached device, ordered by id.
func (s *Session) Covers() []*Cover {
	ids := s.coordinator.Devices().IDs()
	out := make([]*Cover, 0, len(ids))
	for _, id := range ids {
		cover, err := s.Cover(id)
		if err != nil {
			continue
		}
		out = append(out, cover)
	}
	return out
}

// Close stops polling and waits for an in-flight poll to be abandoned.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	covers := s.covers
	s.covers = make(map[string]*Cover)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, cover := range covers {
		cover.Release()
	}
	return nil
}
