package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoPlugin struct {
	id       string
	caps     []Capability
	actions  []Action
	started  int
	stopped  int
	resource any
}

func (p *echoPlugin) Info() Info {
	return Info{ID: p.id, Name: p.id, Category: TypeAction, Capabilities: p.caps}
}

func (p *echoPlugin) Configure(map[string]any) error { return nil }

func (p *echoPlugin) Init(ctx *ExecutionContext) error {
	p.resource, _ = ctx.Resource("greeting")
	return nil
}

func (p *echoPlugin) Start(*ExecutionContext) error {
	p.started++
	return nil
}

func (p *echoPlugin) Stop(*ExecutionContext) error {
	p.stopped++
	return nil
}

func (p *echoPlugin) Actions() []Action { return p.actions }

func echoAction(name string, similes ...string) Action {
	return Action{
		Name:    name,
		Similes: similes,
		Validate: func(_ context.Context, msg Message) bool {
			return strings.TrimSpace(msg.Text) != ""
		},
		Handle: func(ctx context.Context, msg Message, report Reporter) (any, error) {
			report(ctx, "echo: "+msg.Text)
			return msg.Text, nil
		},
	}
}

var allowAll = IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork, CapabilitySigning}}

func TestManagerDispatchBySimile(t *testing.T) {
	m, err := NewManager(ManagerConfig{}, WithResource("greeting", "hi"))
	require.NoError(t, err)

	p := &echoPlugin{id: "echo", actions: []Action{echoAction("ECHO", "REPEAT", "SAY_AGAIN")}}
	require.NoError(t, m.Register("echo", p, nil, IsolationPolicy{}))

	_, err = m.Dispatch(context.Background(), "ECHO", Message{Text: "x"}, nil)
	require.ErrorIs(t, err, ErrActionNotFound, "actions are hidden until the plugin starts")

	require.NoError(t, m.StartAll(context.Background()))
	require.Equal(t, "hi", p.resource)

	var reported []string
	out, err := m.Dispatch(context.Background(), "say_again", Message{Text: "hello"}, func(_ context.Context, text string) {
		reported = append(reported, text)
	})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Equal(t, []string{"echo: hello"}, reported)

	info, err := m.ResolveAction("repeat")
	require.NoError(t, err)
	require.Equal(t, "ECHO", info.Name)
	require.Equal(t, "echo", info.Plugin)
}

func TestManagerDispatchValidateRejects(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)
	require.NoError(t, m.Register("echo", &echoPlugin{actions: []Action{echoAction("ECHO")}}, nil, IsolationPolicy{}))
	require.NoError(t, m.Start(context.Background(), "echo"))

	_, err = m.Dispatch(context.Background(), "ECHO", Message{Text: "  "}, nil)
	require.ErrorIs(t, err, ErrActionNotApplicable)
}

func TestManagerStopHidesActions(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)
	p := &echoPlugin{actions: []Action{echoAction("ECHO")}}
	require.NoError(t, m.Register("echo", p, nil, IsolationPolicy{}))
	require.NoError(t, m.StartAll(context.Background()))
	require.Len(t, m.Actions(), 1)

	require.NoError(t, m.StopAll(context.Background()))
	require.Empty(t, m.Actions())
	state, err := m.State("echo")
	require.NoError(t, err)
	require.Equal(t, StateStopped, state)
	require.Equal(t, 1, p.stopped)
}

func TestManagerRejectsConflictingSimile(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)
	require.NoError(t, m.Register("a", &echoPlugin{actions: []Action{echoAction("FIRST", "SHARED")}}, nil, IsolationPolicy{}))
	require.NoError(t, m.Register("b", &echoPlugin{actions: []Action{echoAction("SECOND", "shared")}}, nil, IsolationPolicy{}))

	require.NoError(t, m.Start(context.Background(), "a"))
	err = m.Start(context.Background(), "b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicts")
}

func TestManagerCapabilityPolicy(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)

	caps := []Capability{CapabilityNetwork}
	require.Error(t, m.Register("nopolicy", &echoPlugin{caps: caps}, nil, IsolationPolicy{}))
	require.Error(t, m.Register("denied", &echoPlugin{caps: caps}, nil,
		IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}}))

	read := echoAction("READ")
	read.Requires = []Capability{CapabilityNetwork}
	write := echoAction("WRITE")
	write.Requires = []Capability{CapabilityNetwork, CapabilitySigning}
	p := &echoPlugin{caps: caps, actions: []Action{read, write}}
	require.NoError(t, m.Register("chain", p, nil, IsolationPolicy{
		AllowedCapabilities: []Capability{CapabilityNetwork},
	}))
	require.NoError(t, m.Start(context.Background(), "chain"))

	actions := m.Actions()
	require.Len(t, actions, 1)
	require.Equal(t, "READ", actions[0].Name)
	_, err = m.ResolveAction("WRITE")
	require.True(t, errors.Is(err, ErrActionNotFound))
}

func TestManagerLoadsBuiltins(t *testing.T) {
	loader := BuiltinLoader{
		"echo": func() Plugin {
			return &echoPlugin{id: "echo", caps: []Capability{CapabilityNetwork}, actions: []Action{echoAction("ECHO")}}
		},
	}
	cfg := ManagerConfig{
		Defaults: allowAll,
		Plugins: map[string]PluginConfig{
			"echo":     {Enabled: true, Source: "builtin:echo"},
			"disabled": {Enabled: false, Source: "builtin:missing"},
		},
	}
	m, err := NewManager(cfg, WithLoader(loader))
	require.NoError(t, err)
	require.NoError(t, m.StartAll(context.Background()))
	require.Len(t, m.Actions(), 1)

	_, err = NewManager(ManagerConfig{Plugins: map[string]PluginConfig{
		"ghost": {Enabled: true, Source: "builtin:ghost"},
	}}, WithLoader(loader))
	require.Error(t, err)
}

func TestManagerConfigValidate(t *testing.T) {
	err := ManagerConfig{Plugins: map[string]PluginConfig{"x": {Enabled: true}}}.Validate()
	require.Error(t, err)
}
