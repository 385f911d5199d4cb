package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrActionNotFound is returned when no started plugin exposes the name.
	ErrActionNotFound = errors.New("action not found")
	// ErrActionNotApplicable is returned when an action's validate hook
	// declines the message.
	ErrActionNotApplicable = errors.New("action not applicable to message")
)

// Manager keeps track of registered plugins, orchestrates their lifecycle and
// dispatches actions exposed by started plugins.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
	// actions holds the permitted actions of started plugins by plugin id.
	actions map[string][]Action
}

type instance struct {
	mu     sync.Mutex
	Plugin Plugin
	Info   Info
	State  State
	Config map[string]any
	Policy IsolationPolicy
	Source string
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    BuiltinLoader{},
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
		actions:   make(map[string][]Action),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers a plugin instance directly with the manager.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	return m.register(id, p, cfg, policy, "manual")
}

func (m *Manager) register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy, source string) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	m.registry[id] = &instance{Plugin: p, Info: mergeInfo(info, id), State: StateRegistered, Config: cfg, Policy: policy, Source: source}
	return nil
}

// Load resolves a plugin through the loader and registers it with the manager.
func (m *Manager) Load(id string, source string, cfg map[string]any, policy IsolationPolicy) error {
	if source == "" {
		return errors.New("plugin source cannot be empty")
	}
	p, err := m.loader.Load(source)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", source, err)
	}
	return m.register(id, p, cfg, policy, source)
}

// Start initialises and starts a plugin by id, then collects its actions.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if inst.State == StateRegistered {
		if err := inst.Plugin.Init(execCtx.Clone()); err != nil {
			return fmt.Errorf("initialise plugin %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Plugin.Start(execCtx.Clone()); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("start plugin %s: %w", id, err)
	}
	actions, err := m.collectActions(id, inst)
	if err != nil {
		_ = inst.Plugin.Stop(execCtx.Clone())
		_ = m.isolation.Cleanup(inst.Info)
		return err
	}
	m.mu.Lock()
	m.actions[id] = actions
	m.mu.Unlock()
	inst.State = StateStarted
	return nil
}

// collectActions keeps the actions permitted by the instance policy and
// rejects names or similes already claimed by another started plugin.
func (m *Manager) collectActions(id string, inst *instance) ([]Action, error) {
	provider, ok := inst.Plugin.(ActionProvider)
	if !ok {
		return nil, nil
	}
	var actions []Action
	for _, action := range provider.Actions() {
		if strings.TrimSpace(action.Name) == "" || action.Handle == nil {
			return nil, fmt.Errorf("plugin %s exposes an action without name or handler", id)
		}
		if !ActionPermitted(action, inst.Policy) {
			continue
		}
		for _, name := range append([]string{action.Name}, action.Similes...) {
			if owner, _, found := m.lookup(name, id); found {
				return nil, fmt.Errorf("action %s of plugin %s conflicts with plugin %s", name, id, owner)
			}
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Stop halts a plugin if it is running.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Plugin.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	m.mu.Lock()
	delete(m.actions, id)
	m.mu.Unlock()
	inst.State = StateStopped
	return nil
}

// StartAll starts all registered plugins in id order.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all active plugins.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs error
	for _, id := range m.ids() {
		errs = errors.Join(errs, m.Stop(ctx, id))
	}
	return errs
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// Actions lists the actions of all started plugins.
func (m *Manager) Actions() []ActionInfo {
	var out []ActionInfo
	for _, id := range m.ids() {
		m.mu.RLock()
		actions := m.actions[id]
		m.mu.RUnlock()
		for _, action := range actions {
			out = append(out, describe(id, action))
		}
	}
	return out
}

// ResolveAction finds a started action by name or simile.
func (m *Manager) ResolveAction(name string) (ActionInfo, error) {
	id, action, found := m.lookup(name, "")
	if !found {
		return ActionInfo{}, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return describe(id, action), nil
}

// Dispatch runs the action matching name against msg. The validate hook, when
// present, must accept the message first.
func (m *Manager) Dispatch(ctx context.Context, name string, msg Message, report Reporter) (any, error) {
	_, action, found := m.lookup(name, "")
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	if report == nil {
		report = func(context.Context, string) {}
	}
	if action.Validate != nil && !action.Validate(ctx, msg) {
		return nil, fmt.Errorf("%w: %s", ErrActionNotApplicable, action.Name)
	}
	return action.Handle(ctx, msg, report)
}

// lookup scans started plugins other than skip for an action matching name.
func (m *Manager) lookup(name string, skip string) (string, Action, bool) {
	for _, id := range m.ids() {
		if id == skip {
			continue
		}
		m.mu.RLock()
		actions := m.actions[id]
		m.mu.RUnlock()
		for _, action := range actions {
			if action.Matches(name) {
				return id, action, true
			}
		}
	}
	return "", Action{}, false
}

func describe(id string, action Action) ActionInfo {
	return ActionInfo{
		Plugin:      id,
		Name:        action.Name,
		Similes:     append([]string(nil), action.Similes...),
		Description: action.Description,
		Examples:    action.Examples,
		Requires:    append([]Capability(nil), action.Requires...),
	}
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	for id, pluginCfg := range cfg.Plugins {
		if !pluginCfg.Enabled {
			continue
		}
		policy := MergePolicies(cfg.Defaults, pluginCfg.Policy)
		if err := m.Load(id, pluginCfg.Source, cloneConfig(pluginCfg.Config), policy); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
