package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantgrow/irrigation-core/internal/infrastructure/mqtt"
)

// commandQoS is the QoS level for actuator commands. At-least-once:
// a duplicated on/off command is harmless, a lost one is not.
const commandQoS = 1

// MQTTClient is the interface for the broker connection used by the
// controller. Satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// commandPayload is the JSON body published on command topics.
type commandPayload struct {
	State         string `json:"state"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// statePayload is the JSON body bridges publish on state topics. Bare
// "on"/"off" payloads from simpler bridges are also accepted.
type statePayload struct {
	State string `json:"state"`
}

// Controller is the MQTT-backed actuator and observer.
//
// Commands are confirmed by state echo: a TurnOn is complete only when
// the bridge publishes the commanded state back on the entity's state
// topic within the actuation timeout. State and availability topics are
// retained by bridges, so the caches warm immediately on (re)connect.
type Controller struct {
	client  MQTTClient
	topics  mqtt.Topics
	timeout time.Duration
	logger  Logger

	mu           sync.RWMutex
	states       map[string]string
	availability map[string]bool
	waiters      map[string][]chan string
}

// NewController creates a controller. actuationTimeout bounds how long
// a command waits for its state echo.
func NewController(client MQTTClient, actuationTimeout time.Duration) *Controller {
	return &Controller{
		client:       client,
		timeout:      actuationTimeout,
		logger:       noopLogger{},
		states:       make(map[string]string),
		availability: make(map[string]bool),
		waiters:      make(map[string][]chan string),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes to state and availability topics. Must be called
// once after the MQTT connection is up and before any actuation.
func (c *Controller) Start() error {
	if err := c.client.Subscribe(c.topics.AllStates(), commandQoS, c.handleState); err != nil {
		return fmt.Errorf("subscribing to states: %w", err)
	}
	if err := c.client.Subscribe(c.topics.AllAvailability(), commandQoS, c.handleAvailability); err != nil {
		return fmt.Errorf("subscribing to availability: %w", err)
	}
	return nil
}

// TurnOn commands the entity on and waits for the state echo.
func (c *Controller) TurnOn(ctx context.Context, entity string) error {
	return c.set(ctx, entity, "on")
}

// TurnOff commands the entity off and waits for the state echo.
func (c *Controller) TurnOff(ctx context.Context, entity string) error {
	return c.set(ctx, entity, "off")
}

func (c *Controller) set(ctx context.Context, entity, desired string) error {
	if entity == "" {
		return ErrInvalidEntity
	}

	// Register the waiter before publishing so a fast echo cannot slip
	// between publish and wait.
	echo := c.addWaiter(entity)
	defer c.removeWaiter(entity, echo)

	payload, err := json.Marshal(commandPayload{
		State:         desired,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	if err := c.client.Publish(c.topics.Command(entity), payload, commandQoS, false); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	c.logger.Debug("command published", "entity", entity, "state", desired)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case state := <-echo:
			if state == desired {
				return nil
			}
			// Stale opposite-state echo; keep waiting for ours.
		case <-timer.C:
			return fmt.Errorf("%w: %s did not reach %q within %v", ErrActuationTimeout, entity, desired, c.timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Light returns the observed state of a light entity.
func (c *Controller) Light(entity string) LightState {
	state, seen := c.State(entity)
	if !seen || !c.Available(entity) {
		return LightUnknown
	}
	switch state {
	case "on":
		return LightOn
	case "off":
		return LightOff
	default:
		return LightUnknown
	}
}

// Available reports whether a bridge has announced the entity online.
// Entities with no availability announcement at all are treated as
// offline.
func (c *Controller) Available(entity string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.availability[entity]
}

// State returns the last observed switch state and whether any state
// has been seen.
func (c *Controller) State(entity string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[entity]
	return state, ok
}

// ─── MQTT Handlers ──────────────────────────────────────────────────────────

func (c *Controller) handleState(topic string, payload []byte) error {
	entity := mqtt.EntityFromTopic(topic)
	if entity == "" {
		return nil
	}

	state := parseState(payload)
	if state == "" {
		c.logger.Warn("unparseable state payload", "topic", topic)
		return nil
	}

	c.mu.Lock()
	c.states[entity] = state
	waiters := make([]chan string, len(c.waiters[entity]))
	copy(waiters, c.waiters[entity])
	c.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- state:
		default:
		}
	}
	return nil
}

func (c *Controller) handleAvailability(topic string, payload []byte) error {
	entity := mqtt.EntityFromTopic(topic)
	if entity == "" {
		return nil
	}

	online := strings.TrimSpace(string(payload)) == "online"

	c.mu.Lock()
	was, seen := c.availability[entity]
	c.availability[entity] = online
	c.mu.Unlock()

	if !seen || was != online {
		c.logger.Info("entity availability changed", "entity", entity, "online", online)
	}
	return nil
}

// parseState accepts {"state":"on"} JSON or a bare on/off payload.
func parseState(payload []byte) string {
	var body statePayload
	if err := json.Unmarshal(payload, &body); err == nil && body.State != "" {
		return normaliseState(body.State)
	}
	return normaliseState(string(payload))
}

func normaliseState(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return "on"
	case "off", "false", "0":
		return "off"
	default:
		return ""
	}
}

// ─── Waiter Management ──────────────────────────────────────────────────────

func (c *Controller) addWaiter(entity string) chan string {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.waiters[entity] = append(c.waiters[entity], ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) removeWaiter(entity string, ch chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.waiters[entity]
	for i, w := range waiters {
		if w == ch {
			c.waiters[entity] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.waiters[entity]) == 0 {
		delete(c.waiters, entity)
	}
}
