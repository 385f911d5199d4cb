package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeAction plugins expose named actions an agent dispatcher can invoke.
	TypeAction Type = "action"
	// TypeProvider plugins only contribute shared services.
	TypeProvider Type = "provider"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityNetwork Capability = "network"
	CapabilityModel   Capability = "model"
	CapabilitySigning Capability = "signing"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
