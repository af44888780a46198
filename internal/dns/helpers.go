package dns

import (
	"strings"
)

// NormalizeZone strips a trailing dot from a zone name.
// e.g. "local." → "local"
func NormalizeZone(zone string) string {
	return strings.TrimSuffix(zone, ".")
}

// SubnetCriterion formats a client-subnet equality criterion for a policy.
// e.g. "inside" → "EQ,inside"
func SubnetCriterion(subnetName string) string {
	return "EQ," + subnetName
}

// WeightedScope formats a policy's target scope with a weight of 1.
// e.g. "inside" → "inside,1"
func WeightedScope(scopeName string) string {
	return scopeName + ",1"
}
