package audiograph

import (
	"errors"
	"fmt"

	"github.com/roach88/plughost/internal/graph"
	"github.com/roach88/plughost/internal/ir"
)

// ConnectErrorCode categorizes ConnectEdge failures.
type ConnectErrorCode string

const (
	ErrCodeSrcPortDoesNotExist   ConnectErrorCode = "SRC_PORT_DOES_NOT_EXIST"
	ErrCodeDstPortDoesNotExist   ConnectErrorCode = "DST_PORT_DOES_NOT_EXIST"
	ErrCodeSrcPluginDoesNotExist ConnectErrorCode = "SRC_PLUGIN_DOES_NOT_EXIST"
	ErrCodeDstPluginDoesNotExist ConnectErrorCode = "DST_PLUGIN_DOES_NOT_EXIST"
	ErrCodeCycle                 ConnectErrorCode = "CYCLE"
	ErrCodeEdgeAlreadyExists     ConnectErrorCode = "EDGE_ALREADY_EXISTS"
	ErrCodeUnknown               ConnectErrorCode = "UNKNOWN"
)

// ConnectEdgeError is returned by ConnectEdge.
type ConnectEdgeError struct {
	Code ConnectErrorCode
	Err  error
}

func (e *ConnectEdgeError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ConnectEdgeError) Unwrap() error { return e.Err }

// ConnectErrorCodeOf returns the code of a ConnectEdgeError, or "".
func ConnectErrorCodeOf(err error) ConnectErrorCode {
	var ce *ConnectEdgeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ConnectEdge connects the port channels req names on src and dst.
//
// Ports are resolved per endpoint: a main-port request picks the plugin's
// main port of the edge's type, otherwise the stable id selects it. The
// boundary nodes have one audio port with stable id 0.
func (a *AudioGraph) ConnectEdge(req ir.EdgeReq, src, dst ir.PluginInstanceID) (ir.Edge, error) {
	edge, err := a.connect(req, src, dst)
	if err != nil && req.LogError {
		a.logger.Warn("failed to connect edge",
			"src", src.String(),
			"dst", dst.String(),
			"type", req.Type.String(),
			"error", err,
		)
	}
	return edge, err
}

func (a *AudioGraph) connect(req ir.EdgeReq, src, dst ir.PluginInstanceID) (ir.Edge, error) {
	se, ok := a.byID[src]
	if !ok {
		return ir.Edge{}, &ConnectEdgeError{Code: ErrCodeSrcPluginDoesNotExist}
	}
	de, ok := a.byID[dst]
	if !ok {
		return ir.Edge{}, &ConnectEdgeError{Code: ErrCodeDstPluginDoesNotExist}
	}
	sp, spc, ok := resolvePort(se, req.SrcPort, req.Type, req.SrcChannel, false)
	if !ok {
		return ir.Edge{}, &ConnectEdgeError{Code: ErrCodeSrcPortDoesNotExist}
	}
	dp, dpc, ok := resolvePort(de, req.DstPort, req.Type, req.DstChannel, true)
	if !ok {
		return ir.Edge{}, &ConnectEdgeError{Code: ErrCodeDstPortDoesNotExist}
	}

	gid, err := a.g.AddEdge(se.id.NodeIndex, sp, de.id.NodeIndex, dp, req.AllowCycle)
	if err != nil {
		code := ErrCodeUnknown
		switch graph.CodeOf(err) {
		case graph.ErrCodeCycleDetected:
			code = ErrCodeCycle
		case graph.ErrCodeEdgeAlreadyExists:
			code = ErrCodeEdgeAlreadyExists
		}
		return ir.Edge{}, &ConnectEdgeError{Code: code, Err: err}
	}

	a.edgeUID++
	edge := ir.Edge{
		ID:         ir.EdgeID{GraphEdge: uint32(gid), UniqueID: a.edgeUID},
		Type:       req.Type,
		Src:        src,
		SrcPort:    spc,
		Dst:        dst,
		DstPort:    dpc,
		AllowCycle: req.AllowCycle,
	}
	a.edges[edge.ID] = edge
	a.edgeByGraph[gid] = edge.ID
	a.dirty = true
	return edge, nil
}

// resolvePort finds the graph port of one edge endpoint.
func resolvePort(e *entry, req ir.EdgeReqPort, typ ir.PortType, channel uint16, isInput bool) (graph.PortID, ir.PortChannelID, bool) {
	stable := req.StableID
	if req.Main {
		var ok bool
		if stable, ok = mainStableID(e, typ, isInput); !ok {
			return 0, ir.PortChannelID{}, false
		}
	}
	if typ != ir.PortTypeAudio {
		channel = 0
	}
	pc := ir.PortChannelID{StableID: stable, IsInput: isInput, Type: typ, Channel: channel}
	pid, ok := e.byChannel[pc]
	return pid, pc, ok
}

func mainStableID(e *entry, typ ir.PortType, isInput bool) (uint32, bool) {
	if e.host == nil {
		return 0, typ == ir.PortTypeAudio
	}
	switch typ {
	case ir.PortTypeAudio:
		cfg := e.host.AudioPorts()
		ports, idx := cfg.Outputs, cfg.MainOutputIndex
		if isInput {
			ports, idx = cfg.Inputs, cfg.MainInputIndex
		}
		if idx == nil || *idx < 0 || *idx >= len(ports) {
			return 0, false
		}
		return ports[*idx].StableID, true
	case ir.PortTypeNote:
		cfg := e.host.NotePorts()
		ports, idx := cfg.Outputs, cfg.MainOutputIndex
		if isInput {
			ports, idx = cfg.Inputs, cfg.MainInputIndex
		}
		if idx == nil || *idx < 0 || *idx >= len(ports) {
			return 0, false
		}
		return ports[*idx].StableID, true
	case ir.PortTypeAutomation:
		return ir.AutomationPortStableID, true
	default:
		return 0, false
	}
}

// DisconnectEdge removes an edge. It returns false for unknown or stale
// ids.
func (a *AudioGraph) DisconnectEdge(id ir.EdgeID) bool {
	if _, ok := a.edges[id]; !ok {
		return false
	}
	gid := graph.EdgeID(id.GraphEdge)
	if err := a.g.RemoveEdge(gid); err != nil {
		a.logger.Error("remove edge", "edge", id.String(), "error", err)
	}
	delete(a.edges, id)
	delete(a.edgeByGraph, gid)
	a.dirty = true
	return true
}
