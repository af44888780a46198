// Package provision performs idempotent provisioning of a split-horizon
// demo environment on a DNS server: a zone, an inside and outside client
// subnet with a matching zone scope and "test" record each, and a
// query-resolution policy per side routing clients to their scope.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/dns"
)

// RecordName is the name of the demo record created in each zone scope.
const RecordName = "test"

// StepResult records the outcome of one completed provisioning step.
type StepResult struct {
	Step    string
	Created bool // false means the object was already present
}

// StepError reports which provisioning step failed and why.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Reconciler provisions the demo environment on a DNS server. Every step
// lists the server's existing objects first and creates only what is
// missing; nothing is ever updated or deleted.
type Reconciler struct {
	Server dns.Server
	Log    logr.Logger
}

// Run performs the provisioning steps in fixed order: zone, then subnet,
// scope and record for the inside and outside sides, then one policy per
// side. The first failure aborts the run with a *StepError; objects created
// by earlier steps are left in place and a re-run picks up where this one
// stopped. The returned results cover every step that completed.
func (r *Reconciler) Run(ctx context.Context, state config.DesiredState) ([]StepResult, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	var results []StepResult
	step := func(label string, fn func() (bool, error)) error {
		created, err := fn()
		if err != nil {
			r.Log.Error(err, "provisioning step failed", "step", label)
			return &StepError{Step: label, Err: err}
		}
		results = append(results, StepResult{Step: label, Created: created})
		return nil
	}

	if err := step("zone "+state.ZoneName, func() (bool, error) {
		return r.ensureZone(ctx, state.ZoneName, state.ReplicationScope)
	}); err != nil {
		return results, err
	}

	for _, side := range []config.SubnetScope{state.Inside, state.Outside} {
		if err := step("client-subnet "+side.SubnetName, func() (bool, error) {
			return r.ensureSubnet(ctx, side.SubnetName, side.CIDR)
		}); err != nil {
			return results, err
		}
		if err := step("zone-scope "+side.ScopeName, func() (bool, error) {
			return r.ensureScope(ctx, state.ZoneName, side.ScopeName)
		}); err != nil {
			return results, err
		}
		if err := step("record "+RecordName+"/"+side.ScopeName, func() (bool, error) {
			return r.ensureRecord(ctx, state.ZoneName, side.ScopeName, side.RecordAddress)
		}); err != nil {
			return results, err
		}
	}

	for _, side := range []config.SubnetScope{state.Inside, state.Outside} {
		if err := step("policy "+side.SubnetName, func() (bool, error) {
			return r.ensurePolicy(ctx, state.ZoneName, side)
		}); err != nil {
			return results, err
		}
	}

	return results, nil
}

func (r *Reconciler) ensureZone(ctx context.Context, name, replicationScope string) (bool, error) {
	zones, err := r.Server.ListZones(ctx)
	if err != nil {
		return false, fmt.Errorf("listing zones: %w", err)
	}
	for _, z := range zones {
		if strings.EqualFold(dns.NormalizeZone(z.Name), dns.NormalizeZone(name)) {
			r.Log.Info("zone present", "zone", name)
			return false, nil
		}
	}

	if err := r.Server.CreateZone(ctx, dns.Zone{Name: name, ReplicationScope: replicationScope}); err != nil {
		return false, fmt.Errorf("creating zone %s: %w", name, err)
	}
	r.Log.Info("zone created", "zone", name, "replicationScope", replicationScope)
	return true, nil
}

func (r *Reconciler) ensureSubnet(ctx context.Context, name, cidr string) (bool, error) {
	subnets, err := r.Server.ListClientSubnets(ctx)
	if err != nil {
		return false, fmt.Errorf("listing client subnets: %w", err)
	}
	for _, s := range subnets {
		if strings.EqualFold(s.Name, name) {
			r.Log.Info("client subnet present", "subnet", name)
			return false, nil
		}
	}

	if err := r.Server.CreateClientSubnet(ctx, dns.ClientSubnet{Name: name, CIDR: cidr}); err != nil {
		return false, fmt.Errorf("creating client subnet %s: %w", name, err)
	}
	r.Log.Info("client subnet created", "subnet", name, "cidr", cidr)
	return true, nil
}

func (r *Reconciler) ensureScope(ctx context.Context, zone, name string) (bool, error) {
	scopes, err := r.Server.ListZoneScopes(ctx, zone)
	if err != nil {
		return false, fmt.Errorf("listing zone scopes: %w", err)
	}
	for _, s := range scopes {
		if strings.EqualFold(s.Name, name) {
			r.Log.Info("zone scope present", "zone", zone, "scope", name)
			return false, nil
		}
	}

	if err := r.Server.CreateZoneScope(ctx, dns.ZoneScope{Zone: zone, Name: name}); err != nil {
		return false, fmt.Errorf("creating zone scope %s: %w", name, err)
	}
	r.Log.Info("zone scope created", "zone", zone, "scope", name)
	return true, nil
}

func (r *Reconciler) ensureRecord(ctx context.Context, zone, scope, address string) (bool, error) {
	existing, err := r.Server.FindRecord(ctx, zone, scope, RecordName, dns.RecordTypeA)
	if err != nil {
		return false, fmt.Errorf("looking up record %s in scope %s: %w", RecordName, scope, err)
	}
	if existing != nil {
		r.Log.Info("record present", "zone", zone, "scope", scope, "record", RecordName)
		return false, nil
	}

	record := dns.Record{
		Zone:  zone,
		Scope: scope,
		Name:  RecordName,
		Type:  dns.RecordTypeA,
		Value: address,
	}
	if err := r.Server.CreateRecord(ctx, record); err != nil {
		return false, fmt.Errorf("creating record %s in scope %s: %w", RecordName, scope, err)
	}
	r.Log.Info("record created", "zone", zone, "scope", scope, "record", RecordName, "address", address)
	return true, nil
}

func (r *Reconciler) ensurePolicy(ctx context.Context, zone string, side config.SubnetScope) (bool, error) {
	policies, err := r.Server.ListPolicies(ctx, zone)
	if err != nil {
		return false, fmt.Errorf("listing policies: %w", err)
	}
	for _, p := range policies {
		if strings.EqualFold(p.Name, side.SubnetName) {
			r.Log.Info("policy present", "zone", zone, "policy", side.SubnetName)
			return false, nil
		}
	}

	policy := dns.Policy{
		Zone:            zone,
		Name:            side.SubnetName,
		ProcessingOrder: 1,
		ClientSubnet:    dns.SubnetCriterion(side.SubnetName),
		ZoneScope:       dns.WeightedScope(side.ScopeName),
		Action:          dns.PolicyActionAllow,
	}
	if err := r.Server.CreatePolicy(ctx, policy); err != nil {
		return false, fmt.Errorf("creating policy %s: %w", side.SubnetName, err)
	}
	r.Log.Info("policy created", "zone", zone, "policy", side.SubnetName, "scope", side.ScopeName)
	return true, nil
}
