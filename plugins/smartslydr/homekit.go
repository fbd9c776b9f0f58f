package smartslydr

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/carlmjohnson/versioninfo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/config"
)

// HomeKitOptions configures the HomeKit bridge.
type HomeKitOptions struct {
	StoreDir string
	Pin      string
	Addr     string
}

func HomeKitOptionsFromFile(cfg *config.HomeKitConfig) HomeKitOptions {
	if cfg == nil {
		return HomeKitOptions{}
	}
	return HomeKitOptions{StoreDir: cfg.StoreDir, Pin: cfg.Pin, Addr: cfg.Addr}
}

// HomeKitBridge exposes every cover as a WindowCovering accessory behind one
// bridge. The server is rebuilt when the set of devices changes.
type HomeKitBridge struct {
	opts   HomeKitOptions
	covers CoverSource
	logger zerolog.Logger

	mu           sync.Mutex
	pctx         context.Context
	server       *hap.Server
	cancelServer func()
	done         chan struct{}
	accessories  map[string]*coverAccessory
	unsubscribe  func()
}

type coverAccessory struct {
	cover *Cover
	acc   *accessory.A
	svc   *service.WindowCovering
}

func NewHomeKitBridge(opts HomeKitOptions, covers CoverSource) *HomeKitBridge {
	return &HomeKitBridge{
		opts:        opts,
		covers:      covers,
		logger:      log.With().Str("plugin", "smartslydr").Str("component", "homekit").Logger(),
		accessories: make(map[string]*coverAccessory),
	}
}

func (h *HomeKitBridge) Start(ctx context.Context) error {
	h.mu.Lock()
	h.pctx = ctx
	h.mu.Unlock()

	if err := h.restart(); err != nil {
		return err
	}

	unsubscribe := h.covers.Coordinator().Subscribe(func(devices Devices) {
		if h.deviceSetChanged(devices) {
			if err := h.restart(); err != nil {
				h.logger.Error().Err(err).Msg("homekit restart failed")
			}
			return
		}
		h.syncAll()
	})

	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
	return nil
}

func (h *HomeKitBridge) Close() error {
	h.mu.Lock()
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	h.stopServer()
	return nil
}

func (h *HomeKitBridge) restart() error {
	h.stopServer()

	covers := h.covers.Covers()
	server, accessories, err := h.constructServer(covers)
	if err != nil {
		return err
	}

	h.mu.Lock()
	parent := h.pctx
	h.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	h.mu.Lock()
	h.server = server
	h.cancelServer = cancel
	h.done = done
	h.accessories = accessories
	h.mu.Unlock()

	h.logger.Info().Int("accessories", len(accessories)).Str("pin", server.Pin).Msg("starting homekit server")
	go func() {
		defer close(done)
		if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error().Err(err).Msg("homekit server stopped")
		}
	}()
	return nil
}

func (h *HomeKitBridge) stopServer() {
	h.mu.Lock()
	cancel, done := h.cancelServer, h.done
	h.server, h.cancelServer, h.done = nil, nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	h.logger.Info().Msg("stopping homekit server")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func (h *HomeKitBridge) constructServer(covers []*Cover) (*hap.Server, map[string]*coverAccessory, error) {
	fs := hap.NewFsStore(h.opts.StoreDir)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "SmartSlydr",
		SerialNumber: "1",
		Manufacturer: "SmartSlydr",
		Model:        "Cloud Bridge",
		Firmware:     versioninfo.Version,
	})

	accessories := make(map[string]*coverAccessory, len(covers))
	list := make([]*accessory.A, 0, len(covers))
	for _, cover := range covers {
		ca := h.newCoverAccessory(cover)
		accessories[cover.ID()] = ca
		list = append(list, ca.acc)
	}

	server, err := hap.NewServer(fs, bridge.A, list...)
	if err != nil {
		return nil, nil, fmt.Errorf("homekit server: %w", err)
	}
	if h.opts.Addr != "" {
		server.Addr = h.opts.Addr
	}
	server.Pin = h.pin(fs)
	return server, accessories, nil
}

// pin prefers the configured pin, then a stored one, and otherwise generates
// and stores a new valid pin.
func (h *HomeKitBridge) pin(fs hap.Store) string {
	if h.opts.Pin != "" {
		return h.opts.Pin
	}
	if d, err := fs.Get("serverPin"); err == nil && len(d) > 0 {
		return string(d)
	}

	invalid := make([]string, 0, len(hap.InvalidPins))
	for p := range hap.InvalidPins {
		invalid = append(invalid, p)
	}
	for {
		pin := fmt.Sprintf("%08d", rand.Intn(99999999))
		if !slices.Contains(invalid, pin) {
			_ = fs.Set("serverPin", []byte(pin))
			return pin
		}
	}
}

func (h *HomeKitBridge) newCoverAccessory(cover *Cover) *coverAccessory {
	dev, _ := cover.Device()
	acc := accessory.New(accessory.Info{
		Name:         cover.Name(),
		SerialNumber: cover.ID(),
		Manufacturer: "SmartSlydr",
		Model:        "SmartSlydr",
	}, accessory.TypeWindowCovering)
	acc.Id = accessoryID(cover.ID())

	svc := service.NewWindowCovering()
	acc.AddS(svc.S)

	ca := &coverAccessory{cover: cover, acc: acc, svc: svc}
	ca.sync(dev)

	svc.TargetPosition.OnValueRemoteUpdate(func(target int) {
		h.handleTarget(ca, target)
	})
	return ca
}

func (h *HomeKitBridge) handleTarget(ca *coverAccessory, target int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ca.cover.SetPosition(ctx, target); err != nil {
		h.logger.Error().Err(err).Str("device_id", ca.cover.ID()).Int("position", target).Msg("homekit command failed")
		dev, _ := ca.cover.Device()
		ca.sync(dev)
		return
	}
	ca.svc.PositionState.SetValue(positionState(ca.cover.Movement()))
}

func (h *HomeKitBridge) syncAll() {
	h.mu.Lock()
	accessories := make([]*coverAccessory, 0, len(h.accessories))
	for _, ca := range h.accessories {
		accessories = append(accessories, ca)
	}
	h.mu.Unlock()

	for _, ca := range accessories {
		if dev, ok := ca.cover.Device(); ok {
			ca.sync(dev)
		}
	}
}

func (h *HomeKitBridge) deviceSetChanged(devices Devices) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(devices) != len(h.accessories) {
		return true
	}
	for id := range devices {
		if _, ok := h.accessories[id]; !ok {
			return true
		}
	}
	return false
}

// sync mirrors a polled record: the poll is a completed measurement, so
// target equals current and the door is stopped.
func (ca *coverAccessory) sync(dev Device) {
	ca.svc.CurrentPosition.SetValue(dev.Position)
	ca.svc.TargetPosition.SetValue(dev.Position)
	ca.svc.PositionState.SetValue(characteristic.PositionStateStopped)
}

func positionState(m Movement) int {
	switch m {
	case MovementOpening:
		return characteristic.PositionStateIncreasing
	case MovementClosing:
		return characteristic.PositionStateDecreasing
	default:
		return characteristic.PositionStateStopped
	}
}

// accessoryID derives a stable accessory id from the device id. Id 1 is the bridge.
func accessoryID(deviceID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(deviceID))
	return (h.Sum64() & 0x0000ffffffffff00) | 0x10
}
