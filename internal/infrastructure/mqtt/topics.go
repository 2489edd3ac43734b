package mqtt

import (
	"fmt"
	"strings"
)

// topicParts is the segment count of flat irrigation/{category}/{entity} topics.
const topicParts = 3

// Topic prefixes for the irrigation MQTT scheme.
//
// Hardware bridges (relay boards, smart switches) live on the other side of
// the broker. The core addresses them with the flat scheme:
// irrigation/{category}/{entity}, where entity is the actuator or sensor
// reference stored on a room (e.g. "pump-veg1", "zone-veg1-a", "light-veg1").
const (
	// TopicPrefix is the base for all irrigation topics.
	TopicPrefix = "irrigation"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "irrigation/system"
)

// Topics provides builders for irrigation MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.Command("pump-veg1")
//	// Returns: "irrigation/command/pump-veg1"
type Topics struct{}

// Command returns the topic for switching an actuator on or off.
//
// Example: irrigation/command/pump-veg1
func (Topics) Command(entity string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, entity)
}

// State returns the topic a bridge reports an entity's state on.
// Lights publish here too, which is how the light-schedule check reads them.
//
// Example: irrigation/state/zone-veg1-a
func (Topics) State(entity string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entity)
}

// Ack returns the topic for command acknowledgements from a bridge.
//
// Example: irrigation/ack/pump-veg1
func (Topics) Ack(entity string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, entity)
}

// Availability returns the retained availability topic for an entity.
// Bridges publish "online"/"offline" here with the retained flag so the
// core knows entity health immediately after (re)connecting.
//
// Example: irrigation/availability/light-veg1
func (Topics) Availability(entity string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, entity)
}

// RoomEvent returns the topic run lifecycle events are mirrored on for a
// room, so external automation can react without polling the API.
//
// Example: irrigation/event/room-veg1
func (Topics) RoomEvent(roomID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, roomID)
}

// SystemStatus returns the system status topic.
// Carries the LWT as well as graceful online/offline announcements.
//
// Example: irrigation/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// EmergencyStop returns the topic external systems can publish to in order
// to trigger a facility-wide emergency stop without going through the API.
//
// Example: irrigation/system/emergency-stop
func (Topics) EmergencyStop() string {
	return fmt.Sprintf("%s/emergency-stop", TopicPrefixSystem)
}

// ─────────────────────────────────────────────────────────────────────────────
// Wildcard patterns for subscriptions
// ─────────────────────────────────────────────────────────────────────────────

// AllStates returns a pattern matching every entity state update.
//
// Pattern: irrigation/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllAcks returns a pattern matching every command acknowledgement.
//
// Pattern: irrigation/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefix)
}

// AllAvailability returns a pattern matching every availability update.
//
// Pattern: irrigation/availability/+
func (Topics) AllAvailability() string {
	return fmt.Sprintf("%s/availability/+", TopicPrefix)
}

// AllTopics returns a pattern matching all irrigation topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: irrigation/#
func (Topics) AllTopics() string {
	return "irrigation/#"
}

// EntityFromTopic extracts the entity reference from a state, ack or
// availability topic. Returns "" if the topic does not match the
// irrigation/{category}/{entity} shape.
func EntityFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[0] != TopicPrefix || parts[2] == "" {
		return ""
	}
	return parts[2]
}
