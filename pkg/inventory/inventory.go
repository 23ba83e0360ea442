// Package inventory defines the persisted inventory entities for armoryx.
package inventory

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ErrValidation is wrapped by every validation failure.
var ErrValidation = errors.New("validation failed")

// State is the lifecycle state of an instance.
type State string

const (
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StatePending    State = "pending"
	StateTerminated State = "terminated"
)

// States returns all known instance states in display order.
func States() []State {
	return []State{StateRunning, StateStopped, StatePending, StateTerminated}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range States() {
		if s == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable state name.
func (s State) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Instance is a VM instance in some cloud account and region.
type Instance struct {
	ID              int64     `json:"id"`
	Account         string    `json:"account"`
	Region          string    `json:"region"`
	InstanceID      string    `json:"instance_id"`
	InstanceName    string    `json:"instance_name"`
	IP              string    `json:"ip"`
	SecurityGroupID string    `json:"security_group_id"`
	VpcPK           *int64    `json:"vpc,omitempty"` // primary key of the owning Vpc
	State           State     `json:"state"`
	CreateTime      time.Time `json:"create_time"`
}

// PK returns the primary key.
func (i *Instance) PK() int64 { return i.ID }

func (i *Instance) String() string {
	return fmt.Sprintf("%s (%s)", i.InstanceName, i.InstanceID)
}

// Validate checks required fields, lengths, the IP address and the state.
// An empty state is defaulted to running.
func (i *Instance) Validate() error {
	if i.State == "" {
		i.State = StateRunning
	}
	checks := []struct {
		name  string
		value string
		max   int
	}{
		{"account", i.Account, 100},
		{"region", i.Region, 50},
		{"instance_id", i.InstanceID, 100},
		{"instance_name", i.InstanceName, 200},
		{"security_group_id", i.SecurityGroupID, 100},
	}
	for _, c := range checks {
		if err := requireString(c.name, c.value, c.max); err != nil {
			return err
		}
	}
	if _, err := netip.ParseAddr(i.IP); err != nil {
		return fmt.Errorf("%w: ip %q is not a valid IPv4 or IPv6 address", ErrValidation, i.IP)
	}
	if !i.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrValidation, i.State)
	}
	return nil
}

// Vpc is a virtual private cloud network.
type Vpc struct {
	ID      int64  `json:"id"`
	Account string `json:"account"`
	Region  string `json:"region"`
	VpcID   string `json:"vpc_id"`
	VpcName string `json:"vpc_name"`
}

// PK returns the primary key.
func (v *Vpc) PK() int64 { return v.ID }

func (v *Vpc) String() string {
	return fmt.Sprintf("%s (%s)", v.VpcName, v.VpcID)
}

// Validate checks required fields and lengths.
func (v *Vpc) Validate() error {
	if err := requireString("account", v.Account, 100); err != nil {
		return err
	}
	if err := requireString("region", v.Region, 50); err != nil {
		return err
	}
	if err := requireString("vpc_id", v.VpcID, 100); err != nil {
		return err
	}
	return requireString("vpc_name", v.VpcName, 200)
}

func requireString(name, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	if n := len([]rune(value)); n > max {
		return fmt.Errorf("%w: %s exceeds %d characters (got %d)", ErrValidation, name, max, n)
	}
	return nil
}
