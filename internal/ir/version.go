package ir

// Version constants for the engine and its persisted formats.
const (
	// SaveStateVersion is the save-state schema version.
	SaveStateVersion = "1"

	// EngineVersion is the plughost engine version.
	EngineVersion = "0.1.0"
)
