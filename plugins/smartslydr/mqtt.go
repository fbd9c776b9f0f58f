package smartslydr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/config"
)

// CoverSource hands out device views. *Session satisfies it.
type CoverSource interface {
	Coordinator() *Coordinator
	Cover(id string) (*Cover, error)
	Covers() []*Cover
}

// MQTTOptions configures the MQTT bridge.
type MQTTOptions struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
}

func MQTTOptionsFromFile(cfg *config.MQTTConfig) (MQTTOptions, error) {
	if cfg == nil {
		return MQTTOptions{}, fmt.Errorf("mqtt config is required")
	}
	opts := MQTTOptions{
		Broker:          cfg.Broker,
		ClientID:        cfg.ClientID,
		Username:        cfg.Username,
		TopicPrefix:     strings.Trim(cfg.TopicPrefix, "/"),
		DiscoveryPrefix: strings.Trim(cfg.DiscoveryPrefix, "/"),
	}
	if cfg.PasswordFile != "" {
		password, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return MQTTOptions{}, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.Password = password
	}
	return opts, nil
}

// MQTTBridge publishes cover state and accepts commands over MQTT, with Home
// Assistant discovery configs so the covers show up without manual setup.
type MQTTBridge struct {
	opts   MQTTOptions
	covers CoverSource
	logger zerolog.Logger

	mu          sync.Mutex
	client      mqtt.Client
	runCtx      context.Context
	stop        context.CancelFunc
	unsubscribe func()
	announced   map[string]bool

	commands sync.WaitGroup
}

// StatePayload is the retained JSON published on <prefix>/<id>/state.
type StatePayload struct {
	State       string `json:"state"`
	Position    int    `json:"position"`
	Online      bool   `json:"online"`
	Name        string `json:"name"`
	Room        string `json:"room"`
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	WifiSignal  int    `json:"wlansignal"`
}

type discoveryDevice struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	DeviceClass       string          `json:"device_class"`
	CommandTopic      string          `json:"command_topic"`
	PositionTopic     string          `json:"position_topic"`
	PositionTemplate  string          `json:"position_template"`
	SetPositionTopic  string          `json:"set_position_topic"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadOpen       string          `json:"payload_open"`
	PayloadClose      string          `json:"payload_close"`
	PayloadStop       *string         `json:"payload_stop"`
	Device            discoveryDevice `json:"device"`
}

func NewMQTTBridge(opts MQTTOptions, covers CoverSource) *MQTTBridge {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = config.DefaultMQTTTopicPrefix
	}
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = config.DefaultMQTTDiscoveryPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = "smartslydr"
	}
	return &MQTTBridge{
		opts:      opts,
		covers:    covers,
		logger:    log.With().Str("plugin", "smartslydr").Str("component", "mqtt").Logger(),
		announced: make(map[string]bool),
	}
}

// Start connects and blocks until the broker accepts the connection, ctx is
// done or Close is called. Connection attempts are retried.
func (b *MQTTBridge) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	b.mu.Lock()
	b.runCtx = ctx
	b.stop = stop
	b.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.opts.Broker)
	opts.SetClientID(b.opts.ClientID)
	opts.SetUsername(b.opts.Username)
	opts.SetPassword(b.opts.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(b.bridgeTopic(), "offline", 1, true)
	opts.SetOnConnectHandler(b.connected)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.opts.Broker, err)
	}

	b.mu.Lock()
	b.client = client
	b.unsubscribe = b.covers.Coordinator().Subscribe(func(Devices) {
		b.publishAll()
	})
	b.mu.Unlock()

	b.publishAll()
	return nil
}

func (b *MQTTBridge) Close() error {
	b.mu.Lock()
	client, stop, unsubscribe := b.client, b.stop, b.unsubscribe
	b.client, b.stop, b.unsubscribe = nil, nil, nil
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	b.commands.Wait()
	if client == nil {
		return nil
	}
	client.Publish(b.bridgeTopic(), 1, true, "offline").WaitTimeout(2 * time.Second)
	client.Disconnect(250)
	return nil
}

func (b *MQTTBridge) connected(c mqtt.Client) {
	b.logger.Info().Str("broker", b.opts.Broker).Msg("connected to mqtt")

	filters := map[string]byte{
		b.opts.TopicPrefix + "/+/set":          1,
		b.opts.TopicPrefix + "/+/position/set": 1,
	}
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		b.dispatch(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		b.logger.Error().Err(token.Error()).Msg("mqtt subscribe failed")
	}
	c.Publish(b.bridgeTopic(), 1, true, "online")

	b.mu.Lock()
	b.announced = make(map[string]bool)
	b.mu.Unlock()
}

func (b *MQTTBridge) publishAll() {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return
	}

	for _, cover := range b.covers.Covers() {
		b.publishCover(client, cover)
	}
}

func (b *MQTTBridge) publishCover(client mqtt.Client, cover *Cover) {
	id := cover.ID()

	b.mu.Lock()
	announce := !b.announced[id]
	b.announced[id] = true
	b.mu.Unlock()

	if announce {
		payload, err := json.Marshal(b.discovery(cover))
		if err == nil {
			client.Publish(b.discoveryTopic(id), 1, true, payload)
		}
	}

	state, err := json.Marshal(buildStatePayload(cover))
	if err != nil {
		b.logger.Error().Err(err).Str("device_id", id).Msg("encode state")
		return
	}
	client.Publish(b.topic(id, "state"), 0, true, state)
	client.Publish(b.topic(id, "availability"), 0, true, availability(cover.IsOnline()))
}

// dispatch runs a command off paho's router goroutine, which must not block.
// Commands still running when Close is called are cancelled and awaited.
func (b *MQTTBridge) dispatch(topic string, payload []byte) {
	b.mu.Lock()
	ctx := b.runCtx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	b.commands.Add(1)
	go func() {
		defer b.commands.Done()
		b.handleMessage(ctx, topic, payload)
	}()
}

// handleMessage applies one command message. Errors are logged; MQTT has no
// reply channel.
func (b *MQTTBridge) handleMessage(ctx context.Context, topic string, payload []byte) {
	cmd, err := b.parseCommand(topic, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("ignoring mqtt command")
		return
	}
	cover, err := b.covers.Cover(cmd.deviceID)
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("ignoring mqtt command")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cover.SetPosition(ctx, cmd.position); err != nil {
		b.logger.Error().Err(err).Str("device_id", cmd.deviceID).Int("position", cmd.position).Msg("mqtt command failed")
		return
	}
	b.logger.Info().Str("device_id", cmd.deviceID).Int("position", cmd.position).Msg("mqtt command sent")
}

type coverCommand struct {
	deviceID string
	position int
}

func (b *MQTTBridge) parseCommand(topic string, payload []byte) (coverCommand, error) {
	rest, ok := strings.CutPrefix(topic, b.opts.TopicPrefix+"/")
	if !ok {
		return coverCommand{}, fmt.Errorf("unexpected topic")
	}
	value := strings.TrimSpace(string(payload))

	if id, ok := strings.CutSuffix(rest, "/position/set"); ok && id != "" && !strings.Contains(id, "/") {
		position, err := strconv.Atoi(value)
		if err != nil || position < 0 || position > 100 {
			return coverCommand{}, fmt.Errorf("%w: %q", ErrInvalidPosition, value)
		}
		return coverCommand{deviceID: id, position: position}, nil
	}
	if id, ok := strings.CutSuffix(rest, "/set"); ok && id != "" && !strings.Contains(id, "/") {
		switch strings.ToUpper(value) {
		case "OPEN":
			return coverCommand{deviceID: id, position: 100}, nil
		case "CLOSE":
			return coverCommand{deviceID: id, position: 0}, nil
		}
		return coverCommand{}, fmt.Errorf("unsupported command %q", value)
	}
	return coverCommand{}, fmt.Errorf("unexpected topic")
}

func buildStatePayload(cover *Cover) StatePayload {
	out := StatePayload{State: cover.State(), Position: cover.Position()}
	if dev, ok := cover.Device(); ok {
		out.Online = dev.Online()
		out.Name = dev.Name
		out.Room = dev.RoomName
		out.Temperature = dev.Temperature
		out.Humidity = dev.Humidity
		out.WifiSignal = dev.WifiSignal
	}
	return out
}

func (b *MQTTBridge) discovery(cover *Cover) discoveryConfig {
	id := cover.ID()
	dev, _ := cover.Device()
	return discoveryConfig{
		Name:              cover.Name(),
		UniqueID:          "smartslydr_" + id,
		DeviceClass:       "door",
		CommandTopic:      b.topic(id, "set"),
		PositionTopic:     b.topic(id, "state"),
		PositionTemplate:  "{{ value_json.position }}",
		SetPositionTopic:  b.topic(id, "position/set"),
		StateTopic:        b.topic(id, "state"),
		ValueTemplate:     "{{ value_json.state }}",
		AvailabilityTopic: b.topic(id, "availability"),
		PayloadOpen:       "OPEN",
		PayloadClose:      "CLOSE",
		Device: discoveryDevice{
			Identifiers:   []string{id},
			Name:          cover.Name(),
			Manufacturer:  "SmartSlydr",
			Model:         "SmartSlydr",
			SuggestedArea: dev.RoomName,
		},
	}
}

func (b *MQTTBridge) topic(id, suffix string) string {
	return b.opts.TopicPrefix + "/" + id + "/" + suffix
}

func (b *MQTTBridge) bridgeTopic() string {
	return b.opts.TopicPrefix + "/bridge/availability"
}

func (b *MQTTBridge) discoveryTopic(id string) string {
	return b.opts.DiscoveryPrefix + "/cover/" + id + "/config"
}

func availability(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
