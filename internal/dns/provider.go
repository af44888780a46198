package dns

import "context"

// RecordTypeA is the only record type this tool provisions.
const RecordTypeA = "A"

// PolicyActionAllow resolves matching queries from the policy's target scope.
const PolicyActionAllow = "Allow"

// Zone is a DNS zone hosted by the server.
type Zone struct {
	Name             string // e.g. "local"
	ReplicationScope string // "Forest", "Domain" or "Legacy"
}

// ClientSubnet is a named IPv4 CIDR block used to classify query sources.
type ClientSubnet struct {
	Name string
	CIDR string // e.g. "10.0.3.0/26"
}

// ZoneScope is a named partition of records within a zone.
type ZoneScope struct {
	Zone string
	Name string
}

// Record is a resource record owned by a zone scope.
type Record struct {
	Zone  string
	Scope string
	Name  string // relative to the zone, e.g. "test"
	Type  string
	Value string // IP address or target
	TTL   int    // seconds; 0 = provider default
}

// Policy is a query-resolution policy binding a client subnet to a zone
// scope, so queries from that subnet resolve from the scope's records.
type Policy struct {
	Zone            string
	Name            string
	ProcessingOrder int
	ClientSubnet    string // equality criterion, e.g. "EQ,inside"
	ZoneScope       string // weighted target, e.g. "inside,1"
	Action          string
}

// Server is the interface DNS server management providers must implement.
// Every method is a single blocking call against the remote server; the
// server's object store is the sole source of truth.
type Server interface {
	ListZones(ctx context.Context) ([]Zone, error)
	CreateZone(ctx context.Context, zone Zone) error

	ListClientSubnets(ctx context.Context) ([]ClientSubnet, error)
	CreateClientSubnet(ctx context.Context, subnet ClientSubnet) error

	ListZoneScopes(ctx context.Context, zone string) ([]ZoneScope, error)
	CreateZoneScope(ctx context.Context, scope ZoneScope) error

	// FindRecord returns nil when no matching record exists.
	FindRecord(ctx context.Context, zone, scope, name, recordType string) (*Record, error)
	CreateRecord(ctx context.Context, record Record) error

	ListPolicies(ctx context.Context, zone string) ([]Policy, error)
	CreatePolicy(ctx context.Context, policy Policy) error
}
