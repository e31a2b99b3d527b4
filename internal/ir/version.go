package ir

// Version constants for the persisted schema and engine.
const (
	// SchemaVersion is the persisted row format version.
	SchemaVersion = "1"

	// EngineVersion is the tempograph engine version.
	EngineVersion = "0.1.0"
)
