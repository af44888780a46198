package windns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/dns"
)

func init() {
	dns.Register("windns", func(log logr.Logger, settings map[string]string) (dns.Server, error) {
		return New(log, settings)
	})
}

// Server implements dns.Server against a Windows DNS Server management
// gateway, a REST bridge over the DnsServer cmdlet surface. List endpoints
// return {"rows": [...]}; mutations return {"result": "created"}.
type Server struct {
	baseURL    string
	username   string
	password   string
	defaultTTL int
	client     *http.Client
	log        logr.Logger
}

// New creates a windns client from the given settings map.
// Required settings: base_url, username, password.
// Optional settings: default_ttl (seconds, default 3600), skip_tls_verify
// (default false).
func New(log logr.Logger, settings map[string]string) (*Server, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("windns: missing required setting 'base_url'")
	}
	username := settings["username"]
	if username == "" {
		return nil, fmt.Errorf("windns: missing required setting 'username'")
	}
	password := settings["password"]
	if password == "" {
		return nil, fmt.Errorf("windns: missing required setting 'password'")
	}

	defaultTTL := 3600
	if v := settings["default_ttl"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("windns: invalid default_ttl %q: %w", v, err)
		}
		defaultTTL = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Server{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		defaultTTL: defaultTTL,
		client:     &http.Client{Transport: transport},
		log:        log,
	}, nil
}

// doRequest builds and executes an HTTP request against the gateway.
func (s *Server) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("windns: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := strings.TrimRight(s.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("windns: build request: %w", err)
	}

	req.SetBasicAuth(s.username, s.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("windns: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// getJSON performs a GET and decodes the response body into out.
func (s *Server) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("windns: GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("windns: decode %s response: %w", path, err)
	}
	return nil
}

// postJSON performs a mutation and checks for the "created" result.
func (s *Server) postJSON(ctx context.Context, path string, body interface{}) error {
	resp, err := s.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("windns: POST %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("windns: decode %s response: %w", path, err)
	}
	if result.Result != "created" {
		return fmt.Errorf("windns: POST %s unexpected result: %s", path, result.Result)
	}
	return nil
}

type zoneRow struct {
	Name             string `json:"name"`
	ReplicationScope string `json:"replicationScope"`
}

type subnetRow struct {
	Name       string `json:"name"`
	IPv4Subnet string `json:"ipv4Subnet"`
}

type scopeRow struct {
	Name string `json:"name"`
}

type recordRow struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
	TTL  int    `json:"ttl"`
}

type policyRow struct {
	Name            string `json:"name"`
	ProcessingOrder int    `json:"processingOrder"`
	ClientSubnet    string `json:"clientSubnet"`
	ZoneScope       string `json:"zoneScope"`
	Action          string `json:"action"`
}

func zonePath(zone string, parts ...string) string {
	p := "dnsserver/zones/" + url.PathEscape(dns.NormalizeZone(zone))
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListZones returns all zones hosted by the server.
func (s *Server) ListZones(ctx context.Context) ([]dns.Zone, error) {
	var sr struct {
		Rows []zoneRow `json:"rows"`
	}
	if err := s.getJSON(ctx, "dnsserver/zones", &sr); err != nil {
		return nil, err
	}

	zones := make([]dns.Zone, 0, len(sr.Rows))
	for _, row := range sr.Rows {
		zones = append(zones, dns.Zone{Name: row.Name, ReplicationScope: row.ReplicationScope})
	}
	return zones, nil
}

// CreateZone adds a directory-integrated primary zone.
func (s *Server) CreateZone(ctx context.Context, zone dns.Zone) error {
	s.log.Info("creating zone", "zone", zone.Name, "replicationScope", zone.ReplicationScope)
	return s.postJSON(ctx, "dnsserver/zones", zoneRow{
		Name:             dns.NormalizeZone(zone.Name),
		ReplicationScope: zone.ReplicationScope,
	})
}

// ListClientSubnets returns all client subnets defined on the server.
func (s *Server) ListClientSubnets(ctx context.Context) ([]dns.ClientSubnet, error) {
	var sr struct {
		Rows []subnetRow `json:"rows"`
	}
	if err := s.getJSON(ctx, "dnsserver/clientsubnets", &sr); err != nil {
		return nil, err
	}

	subnets := make([]dns.ClientSubnet, 0, len(sr.Rows))
	for _, row := range sr.Rows {
		subnets = append(subnets, dns.ClientSubnet{Name: row.Name, CIDR: row.IPv4Subnet})
	}
	return subnets, nil
}

// CreateClientSubnet adds a client subnet.
func (s *Server) CreateClientSubnet(ctx context.Context, subnet dns.ClientSubnet) error {
	s.log.Info("creating client subnet", "subnet", subnet.Name, "cidr", subnet.CIDR)
	return s.postJSON(ctx, "dnsserver/clientsubnets", subnetRow{
		Name:       subnet.Name,
		IPv4Subnet: subnet.CIDR,
	})
}

// ListZoneScopes returns all scopes of the given zone.
func (s *Server) ListZoneScopes(ctx context.Context, zone string) ([]dns.ZoneScope, error) {
	var sr struct {
		Rows []scopeRow `json:"rows"`
	}
	if err := s.getJSON(ctx, zonePath(zone, "scopes"), &sr); err != nil {
		return nil, err
	}

	scopes := make([]dns.ZoneScope, 0, len(sr.Rows))
	for _, row := range sr.Rows {
		scopes = append(scopes, dns.ZoneScope{Zone: zone, Name: row.Name})
	}
	return scopes, nil
}

// CreateZoneScope adds a scope to a zone.
func (s *Server) CreateZoneScope(ctx context.Context, scope dns.ZoneScope) error {
	s.log.Info("creating zone scope", "zone", scope.Zone, "scope", scope.Name)
	return s.postJSON(ctx, zonePath(scope.Zone, "scopes"), scopeRow{Name: scope.Name})
}

// FindRecord looks up a record by name and type within a zone scope.
// Returns nil when no matching record exists.
func (s *Server) FindRecord(ctx context.Context, zone, scope, name, recordType string) (*dns.Record, error) {
	path := zonePath(zone, "scopes", scope, "records") +
		"?name=" + url.QueryEscape(name) + "&type=" + url.QueryEscape(recordType)

	var sr struct {
		Rows []recordRow `json:"rows"`
	}
	if err := s.getJSON(ctx, path, &sr); err != nil {
		return nil, err
	}

	for _, row := range sr.Rows {
		if strings.EqualFold(row.Name, name) && strings.EqualFold(row.Type, recordType) {
			return &dns.Record{
				Zone:  zone,
				Scope: scope,
				Name:  row.Name,
				Type:  row.Type,
				Value: row.Data,
				TTL:   row.TTL,
			}, nil
		}
	}
	return nil, nil
}

// CreateRecord adds a record to a zone scope. A zero TTL falls back to the
// provider's default_ttl setting.
func (s *Server) CreateRecord(ctx context.Context, record dns.Record) error {
	ttl := record.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	s.log.Info("creating record",
		"zone", record.Zone, "scope", record.Scope,
		"name", record.Name, "type", record.Type, "value", record.Value)
	return s.postJSON(ctx, zonePath(record.Zone, "scopes", record.Scope, "records"), recordRow{
		Name: record.Name,
		Type: record.Type,
		Data: record.Value,
		TTL:  ttl,
	})
}

// ListPolicies returns all query-resolution policies of the given zone.
func (s *Server) ListPolicies(ctx context.Context, zone string) ([]dns.Policy, error) {
	var sr struct {
		Rows []policyRow `json:"rows"`
	}
	if err := s.getJSON(ctx, zonePath(zone, "policies"), &sr); err != nil {
		return nil, err
	}

	policies := make([]dns.Policy, 0, len(sr.Rows))
	for _, row := range sr.Rows {
		policies = append(policies, dns.Policy{
			Zone:            zone,
			Name:            row.Name,
			ProcessingOrder: row.ProcessingOrder,
			ClientSubnet:    row.ClientSubnet,
			ZoneScope:       row.ZoneScope,
			Action:          row.Action,
		})
	}
	return policies, nil
}

// CreatePolicy adds a query-resolution policy to a zone.
func (s *Server) CreatePolicy(ctx context.Context, policy dns.Policy) error {
	s.log.Info("creating policy",
		"zone", policy.Zone, "policy", policy.Name,
		"clientSubnet", policy.ClientSubnet, "zoneScope", policy.ZoneScope)
	return s.postJSON(ctx, zonePath(policy.Zone, "policies"), policyRow{
		Name:            policy.Name,
		ProcessingOrder: policy.ProcessingOrder,
		ClientSubnet:    policy.ClientSubnet,
		ZoneScope:       policy.ZoneScope,
		Action:          policy.Action,
	})
}
