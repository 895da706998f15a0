package harness

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/plughost/internal/audiograph"
	"github.com/roach88/plughost/internal/engine"
	"github.com/roach88/plughost/internal/ir"
)

// Builder applies scenario steps to an active engine and keeps the
// mapping between scenario names and plugin instance ids.
type Builder struct {
	engine *engine.Engine
	logger *slog.Logger

	// names maps plugin unique ids to scenario names.
	names map[uint64]string
	ids   map[string]ir.PluginInstanceID
	// edges lists connected edges in connection order. Disconnect steps
	// index into it.
	edges []ir.EdgeID
}

// NewBuilder returns a builder for the graph of an activated engine.
func NewBuilder(eng *engine.Engine, info *engine.ActivatedInfo, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		engine: eng,
		logger: logger,
		names: map[uint64]string{
			info.GraphInput.UniqueID:  GraphIn,
			info.GraphOutput.UniqueID: GraphOut,
		},
		ids: map[string]ir.PluginInstanceID{
			GraphIn:  info.GraphInput,
			GraphOut: info.GraphOutput,
		},
	}
}

// Name returns the scenario name of a plugin, or "" if the builder never
// added it.
func (b *Builder) Name(uniqueID uint64) string { return b.names[uniqueID] }

// ID returns the instance id of a named plugin.
func (b *Builder) ID(name string) (ir.PluginInstanceID, bool) {
	id, ok := b.ids[name]
	return id, ok
}

// Apply runs step as one ModifyGraph call. index is the step number
// recorded in the returned failures.
func (b *Builder) Apply(index int, step Step) (*engine.ModifyGraphResult, []FailureRecord, error) {
	req, edgeSteps, err := b.request(step)
	if err != nil {
		return nil, nil, err
	}

	res, err := b.engine.ModifyGraph(req)
	if err != nil {
		return nil, nil, err
	}
	for i, np := range res.NewPlugins {
		name := step.Add[i].Name
		b.names[np.ID.UniqueID] = name
		b.ids[name] = np.ID
		if np.Err != nil {
			b.logger.Info("plugin added with error", "plugin", name, "status", np.Status.String(), "error", np.Err)
		}
	}
	for _, id := range res.Removed {
		delete(b.ids, b.names[id.UniqueID])
	}
	for _, e := range res.Connected {
		b.edges = append(b.edges, e.ID)
	}

	var failures []FailureRecord
	for _, f := range res.ConnectFailures {
		es := edgeSteps[f.Index]
		failures = append(failures, FailureRecord{
			Step: index,
			Edge: es.From + "->" + es.To,
			Code: string(audiograph.ConnectErrorCodeOf(f.Err)),
		})
	}
	return res, failures, nil
}

// request translates step into a ModifyGraphRequest. The second return
// maps each request edge back to the edge step it came from.
func (b *Builder) request(step Step) (ir.ModifyGraphRequest, []EdgeStep, error) {
	var req ir.ModifyGraphRequest
	added := make(map[string]int, len(step.Add))

	for i, p := range step.Add {
		format := ir.PluginFormat(p.Format)
		if format == "" {
			format = ir.FormatInternal
		}
		s := ir.NewSaveState(ir.PluginKey{RDN: p.Plugin, Format: format})
		s.Active = !p.Inactive
		s.Bypassed = p.Bypassed
		if p.Params != nil {
			raw, err := json.Marshal(map[string]any{"params": p.Params})
			if err != nil {
				return req, nil, fmt.Errorf("encode params of %s: %w", p.Name, err)
			}
			s.RawState = raw
		}
		req.Add = append(req.Add, s)
		added[p.Name] = i
	}

	for _, name := range step.Remove {
		id, ok := b.ids[name]
		if !ok {
			return req, nil, fmt.Errorf("remove: plugin %q is not in the graph", name)
		}
		req.Remove = append(req.Remove, id)
	}

	for _, i := range step.Disconnect {
		if i < 0 || i >= len(b.edges) {
			return req, nil, fmt.Errorf("disconnect: no edge with index %d", i)
		}
		req.Disconnect = append(req.Disconnect, b.edges[i])
	}

	var edgeSteps []EdgeStep
	for _, e := range step.Connect {
		typ := ir.PortTypeAudio
		if e.Type != "" {
			t, err := ir.ParsePortType(e.Type)
			if err != nil {
				return req, nil, err
			}
			typ = t
		}
		src, err := b.endpoint(e.From, added)
		if err != nil {
			return req, nil, err
		}
		dst, err := b.endpoint(e.To, added)
		if err != nil {
			return req, nil, err
		}

		n := 1
		if typ == ir.PortTypeAudio {
			n = e.Channels
			if n == 0 {
				n = 2
			}
		}
		for c := range uint16(n) {
			req.Connect = append(req.Connect, ir.EdgeReq{
				Type:       typ,
				Src:        src,
				SrcPort:    ir.MainPort(),
				SrcChannel: c,
				Dst:        dst,
				DstPort:    ir.MainPort(),
				DstChannel: c,
				AllowCycle: e.AllowCycle,
			})
			edgeSteps = append(edgeSteps, e)
		}
	}
	return req, edgeSteps, nil
}

func (b *Builder) endpoint(name string, added map[string]int) (ir.PluginIDReq, error) {
	if i, ok := added[name]; ok {
		return ir.AddedPlugin(i), nil
	}
	if id, ok := b.ids[name]; ok {
		return ir.ExistingPlugin(id), nil
	}
	return ir.PluginIDReq{}, fmt.Errorf("connect: unknown plugin %q", name)
}
