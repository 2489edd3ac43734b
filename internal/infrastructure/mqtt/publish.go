package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outgoing payloads at 1MB, in line with common
// broker limits. Command and status payloads are a few hundred bytes;
// anything near this cap is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends a payload to a topic and waits for the broker to
// acknowledge it (per the requested QoS).
//
// Valve and pump commands go out at QoS 1 and not retained: a command
// replayed to a late subscriber could open a valve hours after the run
// that wanted it. Status topics are the opposite, retained so a
// restarting bridge immediately sees the controller's state.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured
// default QoS. For state topics only, never commands.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
