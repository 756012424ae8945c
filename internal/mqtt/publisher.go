package mqtt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"solarmax-monitor/internal/inverter"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type Publisher struct {
	client      Client
	topicPrefix string
	address     int
	enabled     bool
	logger      *zap.Logger
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	// Address of the inverter, used to keep topics of several devices apart.
	Address int
	Logger  *zap.Logger
}

// DefaultClientID returns solarmax-monitor-<hostname>-<uuid prefix>.
func DefaultClientID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("solarmax-monitor-%s-%s", hostname, uuid.New().String()[:8])
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return NewPublisherWithClient(client, cfg), nil
}

// NewPublisherWithClient wraps an already connected client.
func NewPublisherWithClient(client Client, cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		address:     cfg.Address,
		enabled:     true,
		logger:      logger,
	}
}

func (p *Publisher) deviceTopic() string {
	return fmt.Sprintf("%s/%02X", p.topicPrefix, byte(p.address))
}

// StateTopic is the topic a reading of mnemonic is published on. Mnemonics
// keep their case: E1M and E1m are different registers.
func (p *Publisher) StateTopic(mnemonic string) string {
	return p.deviceTopic() + "/" + mnemonic
}

type snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Address   int                `json:"address"`
	Readings  []inverter.Reading `json:"readings"`
}

// Publish sends each reading to its own topic and a retained JSON snapshot
// of all of them to <prefix>/<address>/status.
func (p *Publisher) Publish(readings []inverter.Reading) error {
	if !p.enabled {
		return nil
	}

	for _, r := range readings {
		topic := p.StateTopic(r.Mnemonic)
		token := p.client.Publish(topic, 0, false, r.Value.String())
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn("failed to publish", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	statusJSON, err := json.Marshal(snapshot{Timestamp: time.Now(), Address: p.address, Readings: readings})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := p.client.Publish(p.deviceTopic()+"/status", 0, true, statusJSON)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}

	return nil
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Device            discoveryDevice `json:"device"`
}

// deviceClass maps a command unit to the Home Assistant sensor device class.
func deviceClass(unit string) (class, stateClass string) {
	switch unit {
	case "mW":
		return "power", "measurement"
	case "Wh", "kWh":
		return "energy", "total_increasing"
	case "mV":
		return "voltage", "measurement"
	case "mA":
		return "current", "measurement"
	case "Hz":
		return "frequency", "measurement"
	case "°C":
		return "temperature", "measurement"
	case "h":
		return "duration", "total_increasing"
	default:
		return "", ""
	}
}

// PublishHomeAssistantDiscovery announces one sensor per command. Commands
// with unverified meaning are skipped.
func (p *Publisher) PublishHomeAssistantDiscovery(cmds []inverter.Command) error {
	if !p.enabled {
		return nil
	}

	id := fmt.Sprintf("solarmax_%02x", byte(p.address))
	device := discoveryDevice{
		Identifiers:  []string{id},
		Name:         fmt.Sprintf("SolarMax %02X", byte(p.address)),
		Manufacturer: "SolarMax",
		Model:        "S series",
	}

	for _, cmd := range cmds {
		if cmd.Unverified {
			continue
		}
		class, stateClass := deviceClass(cmd.Unit)
		cfg := discoveryConfig{
			Name:              cmd.Description,
			UniqueID:          id + "_" + cmd.Mnemonic,
			StateTopic:        p.StateTopic(cmd.Mnemonic),
			UnitOfMeasurement: cmd.Unit,
			DeviceClass:       class,
			StateClass:        stateClass,
			Device:            device,
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", cmd.Mnemonic, err)
		}
		topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", id, cmd.Mnemonic)
		token := p.client.Publish(topic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", cmd.Mnemonic, token.Error())
		}
	}

	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
