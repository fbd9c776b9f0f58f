package smartslydr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/blob"
)

const latestSnapshotKey = "latest.json"

// Snapshot is one archived poll result.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Devices []Device  `json:"devices"`
}

// Archiver writes every successful poll to a blob store off the polling
// goroutine. If writes fall behind, only the newest pending snapshot is kept.
type Archiver struct {
	store  blob.Store
	now    func() time.Time
	logger zerolog.Logger

	pending chan Snapshot

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

func NewArchiver(store blob.Store) *Archiver {
	return &Archiver{
		store:   store,
		now:     time.Now,
		logger:  log.With().Str("plugin", "smartslydr").Str("component", "archive").Logger(),
		pending: make(chan Snapshot, 1),
	}
}

// Start subscribes to coordinator updates and starts the writer.
func (a *Archiver) Start(ctx context.Context, coordinator *Coordinator) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.unsubscribe = coordinator.Subscribe(a.Offer)
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.run(ctx)
	}()

	if devices := coordinator.Devices(); len(devices) > 0 {
		a.Offer(devices)
	}
}

// Close stops the writer. A pending snapshot that has not started writing is dropped.
func (a *Archiver) Close() error {
	a.mu.Lock()
	cancel, done, unsubscribe := a.cancel, a.done, a.unsubscribe
	a.cancel, a.done, a.unsubscribe = nil, nil, nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Offer queues devices for archiving, replacing any snapshot still waiting.
func (a *Archiver) Offer(devices Devices) {
	snap := Snapshot{TakenAt: a.now().UTC(), Devices: make([]Device, 0, len(devices))}
	for _, id := range devices.IDs() {
		snap.Devices = append(snap.Devices, devices[id])
	}

	for {
		select {
		case a.pending <- snap:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

func (a *Archiver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-a.pending:
			if err := a.write(ctx, snap); err != nil {
				a.logger.Error().Err(err).Msg("archive snapshot failed")
			}
		}
	}
}

func (a *Archiver) write(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := strconv.FormatInt(snap.TakenAt.Unix(), 10) + ".json"
	if err := a.store.Save(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	if err := a.store.Save(ctx, latestSnapshotKey, data); err != nil {
		return fmt.Errorf("save %s: %w", latestSnapshotKey, err)
	}
	a.logger.Debug().Str("key", key).Int("devices", len(snap.Devices)).Msg("snapshot archived")
	return nil
}

// LatestSnapshot reads the most recent archived snapshot.
func LatestSnapshot(ctx context.Context, store blob.Store) (Snapshot, error) {
	data, err := store.Load(ctx, latestSnapshotKey)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
