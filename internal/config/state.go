package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// Defaults for the demo environment.
const (
	DefaultZoneName         = "local"
	DefaultReplicationScope = "Forest"
	DefaultInsideName       = "inside"
	DefaultInsideCIDR       = "10.0.3.0/26"
	DefaultOutsideName      = "outside"
	DefaultOutsideCIDR      = "10.0.3.64/26"

	// Addresses answered by each side's "test" record. Fixed regardless of
	// the subnet CIDRs so a demo query immediately shows which scope answered.
	InsideRecordAddress  = "10.0.0.1"
	OutsideRecordAddress = "10.0.0.255"
)

// SubnetScope pairs a client subnet with the zone scope that answers it.
// The subnet and scope share a name by convention; keeping both in one
// struct makes the pairing explicit instead of relying on matching strings.
type SubnetScope struct {
	SubnetName    string
	CIDR          string
	ScopeName     string
	RecordAddress string
}

// DesiredState describes the split-horizon demo environment to provision:
// one zone, and an inside and outside subnet/scope pair.
type DesiredState struct {
	ZoneName         string
	ReplicationScope string
	Inside           SubnetScope
	Outside          SubnetScope
}

// DefaultState returns the demo defaults.
func DefaultState() DesiredState {
	return DesiredState{
		ZoneName:         DefaultZoneName,
		ReplicationScope: DefaultReplicationScope,
		Inside: SubnetScope{
			SubnetName:    DefaultInsideName,
			CIDR:          DefaultInsideCIDR,
			ScopeName:     DefaultInsideName,
			RecordAddress: InsideRecordAddress,
		},
		Outside: SubnetScope{
			SubnetName:    DefaultOutsideName,
			CIDR:          DefaultOutsideCIDR,
			ScopeName:     DefaultOutsideName,
			RecordAddress: OutsideRecordAddress,
		},
	}
}

// Validate checks that the desired state is complete and well-formed.
func (s DesiredState) Validate() error {
	if strings.TrimSuffix(s.ZoneName, ".") == "" {
		return fmt.Errorf("desired state: missing zone name")
	}
	if s.ReplicationScope == "" {
		return fmt.Errorf("desired state: missing replication scope")
	}
	if err := s.Inside.validate(); err != nil {
		return fmt.Errorf("desired state: inside: %w", err)
	}
	if err := s.Outside.validate(); err != nil {
		return fmt.Errorf("desired state: outside: %w", err)
	}
	if strings.EqualFold(s.Inside.SubnetName, s.Outside.SubnetName) {
		return fmt.Errorf("desired state: inside and outside subnets share the name %q", s.Inside.SubnetName)
	}
	return nil
}

func (p SubnetScope) validate() error {
	if p.SubnetName == "" {
		return fmt.Errorf("missing subnet name")
	}
	if p.ScopeName == "" {
		return fmt.Errorf("missing scope name")
	}
	prefix, err := netip.ParsePrefix(p.CIDR)
	if err != nil {
		return fmt.Errorf("invalid subnet CIDR %q: %w", p.CIDR, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("subnet CIDR %q: only IPv4 subnets are supported", p.CIDR)
	}
	if prefix != prefix.Masked() {
		return fmt.Errorf("subnet CIDR %q: address has bits set beyond the prefix", p.CIDR)
	}
	addr, err := netip.ParseAddr(p.RecordAddress)
	if err != nil {
		return fmt.Errorf("invalid record address %q: %w", p.RecordAddress, err)
	}
	if !addr.Is4() {
		return fmt.Errorf("record address %q: only IPv4 addresses are supported", p.RecordAddress)
	}
	return nil
}
