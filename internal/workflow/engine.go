package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"flowforge/internal/config"
	xerrors "flowforge/internal/errors"
)

// Workflow kinds accepted in configuration.
const (
	KindFeeds     = "feeds"
	KindUniswap   = "uniswap"
	KindAave      = "aave"
	KindLifi      = "lifi"
	KindOstium    = "ostium"
	KindLiquidity = "liquidity"
)

// Runner executes one workflow run. params is the configured base; override
// is the trigger supplied partial config and may be empty.
type Runner func(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output

var runners = map[string]Runner{
	KindFeeds:     RunFeeds,
	KindUniswap:   RunSwap,
	KindAave:      RunLending,
	KindLifi:      RunAggregatorSwap,
	KindOstium:    RunTrade,
	KindLiquidity: RunLiquidity,
}

// Kinds lists the supported workflow kinds in name order.
func Kinds() []string {
	out := make([]string, 0, len(runners))
	for k := range runners {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Definition is a configured workflow bound to its runner.
type Definition struct {
	Name     string
	Kind     string
	Schedule string
	Params   json.RawMessage
	run      Runner
}

// Engine runs configured workflows by name.
type Engine struct {
	rt          *Runtime
	definitions map[string]Definition
}

// NewEngine binds every configured workflow to its runner. Unknown kinds
// fail here rather than at trigger time.
func NewEngine(rt *Runtime, workflows map[string]config.WorkflowConfig) (*Engine, error) {
	if rt == nil {
		rt = &Runtime{}
	}
	defs := make(map[string]Definition, len(workflows))
	for name, wf := range workflows {
		run, ok := runners[wf.Kind]
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "workflow %s: unsupported kind %q", name, wf.Kind)
		}
		defs[name] = Definition{Name: name, Kind: wf.Kind, Schedule: wf.Schedule, Params: wf.Params, run: run}
	}
	return &Engine{rt: rt, definitions: defs}, nil
}

// Definition returns the named workflow.
func (e *Engine) Definition(name string) (Definition, bool) {
	def, ok := e.definitions[name]
	return def, ok
}

// Has reports whether name is a registered workflow.
func (e *Engine) Has(name string) bool {
	_, ok := e.definitions[name]
	return ok
}

// Definitions returns every workflow in name order.
func (e *Engine) Definitions() []Definition {
	out := make([]Definition, 0, len(e.definitions))
	for _, def := range e.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes the named workflow once. The returned error is non-nil only
// when the workflow does not exist; run failures are reported in Output.
func (e *Engine) Run(ctx context.Context, name string, override []byte) (Output, error) {
	def, ok := e.definitions[name]
	if !ok {
		return Output{}, xerrors.Newf(xerrors.CodeNotFound, "workflow %s not found", name)
	}
	logger := e.rt.log().With("workflow", name, "kind", def.Kind)
	start := time.Now()
	logger.Info("running workflow", "override", len(override) > 0)
	out := def.run(ctx, e.rt, def.Params, override)
	if out.Err != nil {
		logger.Warn("workflow failed", "error", xerrors.MessageOf(out.Err), "code", xerrors.CodeOf(out.Err), "duration", time.Since(start))
	} else {
		logger.Info("workflow completed", "duration", time.Since(start))
	}
	return out, nil
}
