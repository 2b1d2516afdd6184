package eventbus

// Event IDs published on the gateway's shared bus. Each is paired with a
// documented payload type so producers and consumers agree on shape
// without a central registry package.
const (
	// EventRegisterUpdated carries a RegisterUpdatedPayload whenever the
	// cache records a new raw+user value for a register.
	EventRegisterUpdated EventID = iota + 1
	// EventLinkUp carries no payload; emitted when the serial/network
	// link the publisher and MQTT gateway depend on becomes reachable.
	EventLinkUp
	// EventLinkDown carries no payload; emitted on link loss.
	EventLinkDown
	// EventBatterySnapshot carries a cache.PackStatistics: the full
	// derived telemetry model, published once per live poll cycle.
	EventBatterySnapshot
	// EventConfigUpdated carries a ConfigUpdatedPayload when the
	// configuration surface changes (broker URI, topics, credentials).
	EventConfigUpdated
	// EventAlert carries an AlertPayload for out-of-band fault
	// notifications (protection/battery status bits).
	EventAlert
	// EventCANFrame carries a CANFramePayload: a compact passthrough view
	// of the live register set's current cache contents, published once
	// per live poll cycle alongside EventBatterySnapshot and driving the
	// MQTT gateway's can/{raw,decoded,ready} topic triad.
	EventCANFrame
)

// RegisterUpdatedPayload is the payload for EventRegisterUpdated.
type RegisterUpdatedPayload struct {
	Address uint16
	Key     string
	Raw     uint32
	User    float64
}

// AlertPayload is the payload for EventAlert.
type AlertPayload struct {
	Code    string
	Message string
}

// ConfigUpdatedPayload is the payload for EventConfigUpdated.
type ConfigUpdatedPayload struct {
	Reason string
}

// CANFramePayload is the payload for EventCANFrame: Raw is the live
// register set's raw values packed big-endian in address order, Decoded
// maps each live register's key to its user-space value, and Ready is
// false whenever any live address had not yet been cached at all (cold
// start).
type CANFramePayload struct {
	Raw     []byte
	Decoded map[string]any
	Ready   bool
}
