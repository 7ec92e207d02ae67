package mqtt

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
)

var _ classradio.Radio = &Transport{}

// Transport is a Radio carried by an MQTT broker. Each radio channel is a topic
// subtree; every client publishes under its own client id and ignores its own echo.
type Transport struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName is a unique identifier for the application, used in the MQTT client ID.
	AppName string
	// RootTopic is the base topic for all messages.
	RootTopic string
	// Settings bound the packet length and the receive queue.
	Settings classradio.RadioSettings
	Logger   log.Logger

	client   mqtt.Client
	clientID string

	mu       sync.Mutex
	channel  uint8
	tuned    bool
	messages chan []byte
}

// ChannelTopic returns the topic a packet sent on channel by clientID is published to.
func ChannelTopic(root string, channel uint8, clientID string) string {
	return fmt.Sprintf("%s/ch/%d/%s", root, channel, clientID)
}

// Connect establishes an MQTT connection to the broker and tunes the default channel.
// It generates a random client ID.
func (mt *Transport) Connect() error {
	if mt.client != nil && mt.client.IsConnected() {
		return nil
	}
	if mt.Settings.Length == 0 {
		mt.Settings = classradio.DefaultRadioSettings
	}
	mt.Logger = log.OrDefault(mt.Logger)

	randomId := make([]byte, 4)
	_, _ = rand.Read(randomId)
	mt.clientID = fmt.Sprintf("%s-%x", mt.AppName, randomId)
	mt.messages = make(chan []byte, max(mt.Settings.Queue, 1))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mt.BrokerURL)
	opts.SetUsername(mt.Username)
	opts.SetPassword(mt.Password)
	opts.SetClientID(mt.clientID)
	opts.SetOrderMatters(false)

	mt.client = mqtt.NewClient(opts)

	token := mt.client.Connect()
	<-token.Done()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect MQTT: %w", err)
	}

	return mt.Tune(mt.Settings.Channel)
}

// Tune moves the subscription to channel and drops the packets queued so far.
func (mt *Transport) Tune(channel uint8) error {
	if mt.client == nil || !mt.client.IsConnected() {
		return ErrNotConnected
	}
	if channel > classradio.MaxChannel {
		return fmt.Errorf("channel %d above %d", channel, classradio.MaxChannel)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.tuned {
		token := mt.client.Unsubscribe(mt.filter(mt.channel))
		<-token.Done()
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
	}

	mt.channel = channel
	mt.tuned = true
	mt.drain()

	token := mt.client.Subscribe(mt.filter(channel), 0, mt.handleMessage)
	<-token.Done()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	return nil
}

func (mt *Transport) filter(channel uint8) string {
	return fmt.Sprintf("%s/ch/%d/+", mt.RootTopic, channel)
}

func (mt *Transport) drain() {
	for {
		select {
		case <-mt.messages:
		default:
			return
		}
	}
}

// Send publishes packet on the current channel.
func (mt *Transport) Send(ctx context.Context, packet []byte) error {
	if mt.client == nil || !mt.client.IsConnected() {
		return ErrNotConnected
	}
	if len(packet) > mt.Settings.Length {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPacketTooLong, len(packet), mt.Settings.Length)
	}

	mt.mu.Lock()
	topic := ChannelTopic(mt.RootTopic, mt.channel, mt.clientID)
	mt.mu.Unlock()

	token := mt.client.Publish(topic, 0, false, packet)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// Receive returns a queued packet or classradio.ErrEmptyQueue.
func (mt *Transport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case packet := <-mt.messages:
		return packet, nil
	default:
		return nil, classradio.ErrEmptyQueue
	}
}

// Disconnect closes the MQTT connection.
func (mt *Transport) Disconnect() {
	if mt.client != nil && mt.client.IsConnected() {
		mt.client.Disconnect(1000)
	}
}

func (mt *Transport) handleMessage(_ mqtt.Client, message mqtt.Message) {
	channel, sender, ok := parseTopic(mt.RootTopic, message.Topic())
	if !ok || sender == mt.clientID {
		return
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	if channel != mt.channel {
		return
	}

	packet := append([]byte(nil), message.Payload()...)
	for {
		select {
		case mt.messages <- packet:
			return
		default:
		}
		// queue full: the oldest packet is lost
		select {
		case <-mt.messages:
			mt.Logger.Debug("Receive queue full, dropping oldest packet", "channel", channel)
		default:
		}
	}
}

func parseTopic(root, topic string) (uint8, string, bool) {
	rest, ok := strings.CutPrefix(topic, root+"/ch/")
	if !ok {
		return 0, "", false
	}
	chStr, sender, ok := strings.Cut(rest, "/")
	if !ok || sender == "" {
		return 0, "", false
	}
	ch, err := strconv.ParseUint(chStr, 10, 8)
	if err != nil {
		return 0, "", false
	}
	return uint8(ch), sender, true
}
