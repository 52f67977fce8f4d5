package transport

// MessageType discriminates wire messages in both directions.
type MessageType string

// Client to server.
const (
	TypeIdentify          MessageType = "identify"
	TypeSegment           MessageType = "segment"
	TypeRequestProcessing MessageType = "request_processing"
	TypeHeartbeat         MessageType = "heartbeat"
	TypeStatusQuery       MessageType = "status_query"
	TypeCleanupComplete   MessageType = "cleanup_complete"
)

// Server to client.
const (
	TypeUserIdentified      MessageType = "user_identified"
	TypeHeartbeatAck        MessageType = "heartbeat_ack"
	TypeProcessed           MessageType = "processed"
	TypeProcessingError     MessageType = "processing_error"
	TypeStatus              MessageType = "status"
	TypeCleanupAcknowledged MessageType = "cleanup_acknowledged"
)

// Identity binds a connection to its owner.
type Identity struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

// Message is the JSON envelope carried over the WebSocket. Binary segment
// payloads travel in Data (base64 on the wire via encoding/json).
type Message struct {
	Type        MessageType `json:"type"`
	Filename    string      `json:"filename,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	WorkspaceID string      `json:"workspace_id,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty"`
	Seq         int         `json:"seq,omitempty"`
	Data        []byte      `json:"data,omitempty"`
	Status      string      `json:"status,omitempty"`
	Error       string      `json:"error,omitempty"`
}
