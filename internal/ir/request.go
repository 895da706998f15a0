package ir

import "fmt"

// PluginIDReq addresses an edge endpoint either by an existing plugin id or
// by index into the plugins added in the same ModifyGraphRequest.
// Exactly one of Existing or Added is set.
type PluginIDReq struct {
	Existing *PluginInstanceID `json:"existing,omitempty"`
	Added    *int              `json:"added,omitempty"`
}

// ExistingPlugin addresses an endpoint by plugin id.
func ExistingPlugin(id PluginInstanceID) PluginIDReq {
	return PluginIDReq{Existing: &id}
}

// AddedPlugin addresses an endpoint by index into ModifyGraphRequest.Add.
func AddedPlugin(index int) PluginIDReq {
	return PluginIDReq{Added: &index}
}

// String implements fmt.Stringer.
func (r PluginIDReq) String() string {
	switch {
	case r.Existing != nil:
		return r.Existing.String()
	case r.Added != nil:
		return fmt.Sprintf("added[%d]", *r.Added)
	default:
		return "<unset>"
	}
}

// EdgeReqPort selects a port on one endpoint: either the plugin's main
// port of the edge's type, or a port by its plugin-assigned stable id.
type EdgeReqPort struct {
	Main     bool   `json:"main"`
	StableID uint32 `json:"stable_id,omitempty"`
}

// MainPort selects the main port of the edge's type.
func MainPort() EdgeReqPort {
	return EdgeReqPort{Main: true}
}

// StablePort selects a port by stable id.
func StablePort(id uint32) EdgeReqPort {
	return EdgeReqPort{StableID: id}
}

// EdgeReq is a request to connect one source port channel to one
// destination port channel.
type EdgeReq struct {
	Type PortType `json:"type"`

	Src        PluginIDReq `json:"src"`
	SrcPort    EdgeReqPort `json:"src_port"`
	SrcChannel uint16      `json:"src_channel"`

	Dst        PluginIDReq `json:"dst"`
	DstPort    EdgeReqPort `json:"dst_port"`
	DstChannel uint16      `json:"dst_channel"`

	// AllowCycle permits this edge to close a cycle. The compiler then
	// schedules it as a one-block-delayed read.
	AllowCycle bool `json:"allow_cycle"`

	// LogError logs a failure to connect at Warn level. Requests that are
	// expected to fail sometimes (e.g. reconnecting a restored project)
	// leave it false.
	LogError bool `json:"log_error"`
}

// Edge is an established connection between two port channels.
type Edge struct {
	ID         EdgeID           `json:"id"`
	Type       PortType         `json:"type"`
	Src        PluginInstanceID `json:"src"`
	SrcPort    PortChannelID    `json:"src_port"`
	Dst        PluginInstanceID `json:"dst"`
	DstPort    PortChannelID    `json:"dst_port"`
	AllowCycle bool             `json:"allow_cycle"`
}

// ModifyGraphRequest is one atomic batch of graph changes. Items are
// applied in the order add, remove, disconnect, connect; a failing item is
// reported in the result and never aborts the batch.
type ModifyGraphRequest struct {
	Add        []PluginSaveState  `json:"add,omitempty"`
	Remove     []PluginInstanceID `json:"remove,omitempty"`
	Disconnect []EdgeID           `json:"disconnect,omitempty"`
	Connect    []EdgeReq          `json:"connect,omitempty"`
}

// IsEmpty reports whether the request changes nothing.
func (r ModifyGraphRequest) IsEmpty() bool {
	return len(r.Add) == 0 && len(r.Remove) == 0 && len(r.Disconnect) == 0 && len(r.Connect) == 0
}

// LoopState is the transport loop range in frames.
type LoopState struct {
	Active     bool   `json:"active"`
	StartFrame uint64 `json:"start_frame"`
	EndFrame   uint64 `json:"end_frame"`
}

// TempoMap maps frames to musical time. The engine core only needs a
// constant tempo and time signature; a richer map is the embedder's concern.
type TempoMap struct {
	BPM         float64 `json:"bpm"`
	Numerator   uint16  `json:"numerator"`
	Denominator uint16  `json:"denominator"`
}

// DefaultTempoMap returns 120 BPM in 4/4.
func DefaultTempoMap() TempoMap {
	return TempoMap{BPM: 120, Numerator: 4, Denominator: 4}
}
