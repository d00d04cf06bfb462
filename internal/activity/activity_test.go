package activity

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/expr"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/pluginschema"
	"github.com/citadel-agent/routines/internal/state"
)

type echoPlugin struct {
	lastReq Request
}

func (e *echoPlugin) Invoke(ctx context.Context, req Request) (Response, error) {
	e.lastReq = req
	return Response{Outputs: map[string][]any{"out": {req.Parameters["value"]}}}, nil
}

type failingPlugin struct{ err error }

func (f failingPlugin) Invoke(ctx context.Context, req Request) (Response, error) {
	return Response{}, f.err
}

type staticCtxFactory struct {
	vars map[string]any
}

func (f staticCtxFactory) Build(node *graph.Node, loopCtx execctx.LoopContext) expr.ExpressionContext {
	return expr.ExpressionContext{Vars: f.vars, LoopCtx: loopCtx}
}

func TestPort_ResolvesParametersThenInvokesPlugin(t *testing.T) {
	registry := NewStaticRegistry()
	echo := &echoPlugin{}
	registry.Register("echo", echo)

	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "echo", Parameters: map[string]any{"value": "{{ vars.greeting }}"}}

	bound := NewBoundPort(port, staticCtxFactory{vars: map[string]any{"greeting": "hello"}})
	out, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.NoError(t, err)
	assert.Equal(t, "hello", out["out"][0].Data)
	assert.Equal(t, "hello", echo.lastReq.Parameters["value"])
}

func TestPort_UnknownPluginYieldsPluginNotFound(t *testing.T) {
	registry := NewStaticRegistry()
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "missing"}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindPluginNotFound, ee.Kind)
}

func TestPort_MissingCredentialYieldsMissingCredentials(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("echo", &echoPlugin{})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{
		ID:                 "n1",
		PluginID:           "echo",
		CredentialMappings: map[string]string{"api": "missing-cred"},
	}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindMissingCredentials, ee.Kind)
}

func TestPort_CredentialsForwardedToPlugin(t *testing.T) {
	registry := NewStaticRegistry()
	echo := &echoPlugin{}
	registry.Register("echo", echo)
	creds := NewStaticCredentialStore()
	creds.Put("db-main", map[string]string{"token": "secret-123"})

	port := NewPort(registry, creds, zerolog.Nop())
	node := &graph.Node{
		ID:                 "n1",
		PluginID:           "echo",
		Parameters:         map[string]any{"value": "x"},
		CredentialMappings: map[string]string{"db": "db-main"},
	}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.NoError(t, err)
	assert.Equal(t, "secret-123", echo.lastReq.Credentials["db.token"])
}

func TestPort_PluginErrorIsClassified(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("boom", failingPlugin{err: engineerr.NewPluginFatalError(nil)})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "boom"}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Fatal())
}

func TestPort_FlattensGatheredInputs(t *testing.T) {
	registry := NewStaticRegistry()
	capture := &capturingPlugin{}
	registry.Register("capture", capture)
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "capture"}

	inputs := map[string][]state.Item{
		"in": {{Data: float64(1)}, {Data: float64(2)}},
	}
	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, inputs, execctx.Root)
	require.NoError(t, err)
	require.Len(t, capture.lastReq.Inputs["in"], 2)
	assert.Equal(t, float64(1), capture.lastReq.Inputs["in"][0])
}

type capturingPlugin struct{ lastReq Request }

func (c *capturingPlugin) Invoke(ctx context.Context, req Request) (Response, error) {
	c.lastReq = req
	return Response{}, nil
}

// describedPlugin declares a schema and returns whatever Outputs the
// test configures it with, letting each test control the output shape
// without touching Invoke's own logic.
type describedPlugin struct {
	def     pluginschema.Definition
	outputs map[string][]any
}

func (d describedPlugin) Definition() pluginschema.Definition { return d.def }

func (d describedPlugin) Invoke(context.Context, Request) (Response, error) {
	return Response{Outputs: d.outputs}, nil
}

func TestPort_InvalidInputYieldsInvalidInput(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("typed", describedPlugin{
		def: pluginschema.Definition{
			InputSchema: pluginschema.Schema{
				{Name: "in", Type: pluginschema.TypeNumber, Required: true},
			},
		},
	})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "typed"}

	inputs := map[string][]state.Item{"in": {{Data: "not-a-number"}}}
	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, inputs, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindInvalidInput, ee.Kind)
}

func TestPort_RequiredInputMissingYieldsInvalidInput(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("typed", describedPlugin{
		def: pluginschema.Definition{
			InputSchema: pluginschema.Schema{
				{Name: "in", Type: pluginschema.TypeNumber, Required: true},
			},
		},
	})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "typed"}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindInvalidInput, ee.Kind)
}

func TestPort_InvalidOutputYieldsInvalidOutput(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("typed", describedPlugin{
		def: pluginschema.Definition{
			OutputSchema: pluginschema.Schema{
				{Name: "out", Type: pluginschema.TypeNumber, Required: true},
			},
		},
		outputs: map[string][]any{"out": {"not-a-number"}},
	})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "typed"}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindInvalidOutput, ee.Kind)
}

func TestPort_MissingDeclaredCredentialYieldsMissingCredentials(t *testing.T) {
	registry := NewStaticRegistry()
	registry.Register("typed", describedPlugin{
		def: pluginschema.Definition{CredentialRequests: []string{"api"}},
	})
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "typed"}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.Error(t, err)

	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.KindMissingCredentials, ee.Kind)
}

func TestPort_UndescribedPluginSkipsValidation(t *testing.T) {
	registry := NewStaticRegistry()
	echo := &echoPlugin{}
	registry.Register("echo", echo)
	port := NewPort(registry, NewStaticCredentialStore(), zerolog.Nop())
	node := &graph.Node{ID: "n1", PluginID: "echo", Parameters: map[string]any{"value": "x"}}

	bound := NewBoundPort(port, staticCtxFactory{})
	_, err := bound.Invoke(context.Background(), node, nil, execctx.Root)
	require.NoError(t, err)
}
