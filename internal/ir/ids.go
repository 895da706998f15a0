package ir

import "fmt"

// NodeIndex is the index of a node in the abstract graph.
// Indices are dense and are reused after a node is removed.
type NodeIndex uint32

// PluginInstanceType tags what kind of graph participant an id refers to.
type PluginInstanceType int

const (
	// PluginInstanceUnloaded is a plugin whose binary could not be loaded.
	// The node keeps the ports from the save state's backup configuration.
	PluginInstanceUnloaded PluginInstanceType = iota
	// PluginInstanceInternal is a plugin built into the host.
	PluginInstanceInternal
	// PluginInstanceExternal is a plugin loaded through a binary adapter.
	PluginInstanceExternal
	// PluginInstanceGraphInput is the fixed graph-input boundary node.
	PluginInstanceGraphInput
	// PluginInstanceGraphOutput is the fixed graph-output boundary node.
	PluginInstanceGraphOutput
)

// String implements fmt.Stringer.
func (t PluginInstanceType) String() string {
	switch t {
	case PluginInstanceUnloaded:
		return "unloaded"
	case PluginInstanceInternal:
		return "internal"
	case PluginInstanceExternal:
		return "external"
	case PluginInstanceGraphInput:
		return "graph_in"
	case PluginInstanceGraphOutput:
		return "graph_out"
	default:
		return fmt.Sprintf("PluginInstanceType(%d)", int(t))
	}
}

// Reserved reverse-domain names of the two boundary nodes.
const (
	GraphInputRDN  = "app.plughost.graph_in_node"
	GraphOutputRDN = "app.plughost.graph_out_node"
)

// PluginInstanceID identifies one graph participant for the lifetime of
// the process.
//
// NodeIndex may be reused after removal; UniqueID and RDN give the id its
// identity. Two ids are equal only if all four fields are equal, so an id
// held across a node-index reuse never aliases the new occupant.
type PluginInstanceID struct {
	NodeIndex NodeIndex          `json:"node_index"`
	UniqueID  uint64             `json:"unique_id"`
	Type      PluginInstanceType `json:"type"`
	RDN       string             `json:"rdn"`
}

// IsBoundary reports whether the id is the graph-input or graph-output node.
func (id PluginInstanceID) IsBoundary() bool {
	return id.Type == PluginInstanceGraphInput || id.Type == PluginInstanceGraphOutput
}

// String implements fmt.Stringer.
func (id PluginInstanceID) String() string {
	return fmt.Sprintf("%s_%d", id.RDN, id.UniqueID)
}

// EdgeID identifies an edge. It wraps the abstract graph's own edge id with
// a unique integer that is never reused, so a stale EdgeID held by a caller
// can never address a newer edge.
type EdgeID struct {
	GraphEdge uint32 `json:"graph_edge"`
	UniqueID  uint64 `json:"unique_id"`
}

// String implements fmt.Stringer.
func (id EdgeID) String() string {
	return fmt.Sprintf("edge_%d", id.UniqueID)
}

// ParamID is a plugin-assigned parameter id.
type ParamID uint32

// TimerID is a plugin-assigned timer id.
type TimerID uint32
