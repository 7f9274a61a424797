package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Cyclic actuator telemetry
	MessageTypeTelemetry MessageType = "telemetry"

	// Diagnostics report from the updater
	MessageTypeDiagnostics MessageType = "diagnostics"

	// Controller switch events
	MessageTypeControllerSwitch MessageType = "controller_switch"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ControllerSwitchData reports a controller switch applied by the loop
type ControllerSwitchData struct {
	Start []string `json:"start"`
	Stop  []string `json:"stop"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewTelemetryMessage(snapshot interface{}) Message {
	return NewMessage(MessageTypeTelemetry, snapshot)
}

func NewDiagnosticsMessage(report interface{}) Message {
	return NewMessage(MessageTypeDiagnostics, report)
}

func NewControllerSwitchMessage(start, stop []string) Message {
	return NewMessage(MessageTypeControllerSwitch, ControllerSwitchData{
		Start: start,
		Stop:  stop,
	})
}
