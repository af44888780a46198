package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	logrtesting "github.com/go-logr/logr/testing"

	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/dns/windns"
	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/provision"
)

// fakeGateway is a minimal in-memory Windows DNS management gateway for
// testing: list endpoints return {"rows": [...]}, mutations return
// {"result": "created"}, credentials are checked with basic auth.
type fakeGateway struct {
	mu       sync.Mutex
	zones    []zoneObj
	subnets  []subnetObj
	scopes   map[string][]scopeObj  // keyed by zone
	records  map[string][]recordObj // keyed by zone + "/" + scope
	policies map[string][]policyObj // keyed by zone
	calls    []string               // tracks endpoint calls in order
	failPath string                 // any path containing this returns 500
}

type zoneObj struct {
	Name             string `json:"name"`
	ReplicationScope string `json:"replicationScope"`
}

type subnetObj struct {
	Name       string `json:"name"`
	IPv4Subnet string `json:"ipv4Subnet"`
}

type scopeObj struct {
	Name string `json:"name"`
}

type recordObj struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
	TTL  int    `json:"ttl"`
}

type policyObj struct {
	Name            string `json:"name"`
	ProcessingOrder int    `json:"processingOrder"`
	ClientSubnet    string `json:"clientSubnet"`
	ZoneScope       string `json:"zoneScope"`
	Action          string `json:"action"`
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		scopes:   map[string][]scopeObj{},
		records:  map[string][]recordObj{},
		policies: map[string][]policyObj{},
	}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.calls = append(g.calls, r.Method+" "+r.URL.Path)
	g.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "svc-dns" || pass != "hunter2" {
		http.Error(w, `{"result":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if g.failPath != "" && strings.Contains(r.URL.Path, g.failPath) {
		http.Error(w, `{"result":"internal error"}`, http.StatusInternalServerError)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "dnsserver/zones":
		g.handleZones(w, r)
	case path == "dnsserver/clientsubnets":
		g.handleSubnets(w, r)
	case strings.HasPrefix(path, "dnsserver/zones/"):
		g.handleZoneChild(w, r, strings.Split(strings.TrimPrefix(path, "dnsserver/zones/"), "/"))
	default:
		http.NotFound(w, r)
	}
}

func (g *fakeGateway) handleZones(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Method == http.MethodGet {
		writeJSON(w, map[string]interface{}{"rows": g.zones})
		return
	}
	var z zoneObj
	if err := readJSON(r, &z); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.zones = append(g.zones, z)
	writeJSON(w, map[string]string{"result": "created"})
}

func (g *fakeGateway) handleSubnets(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Method == http.MethodGet {
		writeJSON(w, map[string]interface{}{"rows": g.subnets})
		return
	}
	var s subnetObj
	if err := readJSON(r, &s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.subnets = append(g.subnets, s)
	writeJSON(w, map[string]string{"result": "created"})
}

func (g *fakeGateway) handleZoneChild(w http.ResponseWriter, r *http.Request, parts []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	zone := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "scopes":
		if r.Method == http.MethodGet {
			writeJSON(w, map[string]interface{}{"rows": g.scopes[zone]})
			return
		}
		var s scopeObj
		if err := readJSON(r, &s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.scopes[zone] = append(g.scopes[zone], s)
		writeJSON(w, map[string]string{"result": "created"})

	case len(parts) == 2 && parts[1] == "policies":
		if r.Method == http.MethodGet {
			writeJSON(w, map[string]interface{}{"rows": g.policies[zone]})
			return
		}
		var p policyObj
		if err := readJSON(r, &p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.policies[zone] = append(g.policies[zone], p)
		writeJSON(w, map[string]string{"result": "created"})

	case len(parts) == 4 && parts[1] == "scopes" && parts[3] == "records":
		key := zone + "/" + parts[2]
		if r.Method == http.MethodGet {
			name := r.URL.Query().Get("name")
			recordType := r.URL.Query().Get("type")
			rows := []recordObj{}
			for _, rec := range g.records[key] {
				if (name == "" || strings.EqualFold(rec.Name, name)) &&
					(recordType == "" || strings.EqualFold(rec.Type, recordType)) {
					rows = append(rows, rec)
				}
			}
			writeJSON(w, map[string]interface{}{"rows": rows})
			return
		}
		var rec recordObj
		if err := readJSON(r, &rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.records[key] = append(g.records[key], rec)
		writeJSON(w, map[string]string{"result": "created"})

	default:
		http.NotFound(w, r)
	}
}

func (g *fakeGateway) countMutations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, "POST ") {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func newReconciler(t *testing.T, serverURL string) *provision.Reconciler {
	t.Helper()
	s, err := windns.New(logrtesting.NewTestLogger(t), map[string]string{
		"base_url": serverURL,
		"username": "svc-dns",
		"password": "hunter2",
	})
	if err != nil {
		t.Fatalf("failed to create windns client: %v", err)
	}
	return &provision.Reconciler{Server: s, Log: logrtesting.NewTestLogger(t)}
}

func TestProvisionFreshEnvironment(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := newReconciler(t, srv.URL)
	results, err := r.Run(context.Background(), config.DefaultState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 9 {
		t.Errorf("expected 9 completed steps, got %d", len(results))
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()

	if len(gw.zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(gw.zones))
	}
	if gw.zones[0].Name != "local" || gw.zones[0].ReplicationScope != "Forest" {
		t.Errorf("unexpected zone: %+v", gw.zones[0])
	}

	if len(gw.subnets) != 2 {
		t.Fatalf("expected 2 client subnets, got %d", len(gw.subnets))
	}
	for _, s := range gw.subnets {
		switch s.Name {
		case "inside":
			if s.IPv4Subnet != "10.0.3.0/26" {
				t.Errorf("inside subnet: expected 10.0.3.0/26, got %q", s.IPv4Subnet)
			}
		case "outside":
			if s.IPv4Subnet != "10.0.3.64/26" {
				t.Errorf("outside subnet: expected 10.0.3.64/26, got %q", s.IPv4Subnet)
			}
		default:
			t.Errorf("unexpected subnet %q", s.Name)
		}
	}

	if len(gw.scopes["local"]) != 2 {
		t.Fatalf("expected 2 zone scopes, got %d", len(gw.scopes["local"]))
	}

	for scope, want := range map[string]string{"inside": "10.0.0.1", "outside": "10.0.0.255"} {
		recs := gw.records["local/"+scope]
		if len(recs) != 1 {
			t.Fatalf("scope %s: expected 1 record, got %d", scope, len(recs))
		}
		rec := recs[0]
		if rec.Name != "test" || rec.Type != "A" || rec.Data != want {
			t.Errorf("scope %s: unexpected record %+v, want test/A/%s", scope, rec, want)
		}
		if rec.TTL != 3600 {
			t.Errorf("scope %s: expected default TTL 3600, got %d", scope, rec.TTL)
		}
	}

	if len(gw.policies["local"]) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(gw.policies["local"]))
	}
	for _, p := range gw.policies["local"] {
		if p.Action != "Allow" || p.ProcessingOrder != 1 {
			t.Errorf("policy %q: unexpected action/order: %+v", p.Name, p)
		}
		if p.ClientSubnet != "EQ,"+p.Name || p.ZoneScope != p.Name+",1" {
			t.Errorf("policy %q: unexpected criterion/target: %+v", p.Name, p)
		}
	}
}

func TestSecondRunCreatesNothing(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := newReconciler(t, srv.URL)
	ctx := context.Background()

	if _, err := r.Run(ctx, config.DefaultState()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	mutations := gw.countMutations()
	if mutations != 9 {
		t.Errorf("expected 9 mutation calls on first run, got %d", mutations)
	}

	results, err := r.Run(ctx, config.DefaultState())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := gw.countMutations(); got != mutations {
		t.Errorf("second run performed %d mutation calls, expected 0", got-mutations)
	}
	for _, res := range results {
		if res.Created {
			t.Errorf("step %q: expected present on second run", res.Step)
		}
	}
}

func TestExistingZoneSkipsCreate(t *testing.T) {
	gw := newFakeGateway()
	gw.zones = []zoneObj{{Name: "local", ReplicationScope: "Forest"}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := newReconciler(t, srv.URL)
	results, err := r.Run(context.Background(), config.DefaultState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if results[0].Created {
		t.Error("expected zone step to report present")
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for _, c := range gw.calls {
		if c == "POST /dnsserver/zones" {
			t.Error("expected no zone create call when the zone already exists")
		}
	}
	if len(gw.subnets) != 2 {
		t.Errorf("expected subnet steps to proceed, got %d subnets", len(gw.subnets))
	}
}

func TestGatewayFailureAbortsRun(t *testing.T) {
	gw := newFakeGateway()
	gw.failPath = "/scopes"
	srv := httptest.NewServer(gw)
	defer srv.Close()

	r := newReconciler(t, srv.URL)
	_, err := r.Run(context.Background(), config.DefaultState())
	if err == nil {
		t.Fatal("expected error when the gateway fails, got nil")
	}
	var stepErr *provision.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T: %v", err, err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.zones) != 1 || len(gw.subnets) != 1 {
		t.Errorf("expected objects from earlier steps to remain (1 zone, 1 subnet), got %d/%d",
			len(gw.zones), len(gw.subnets))
	}
	if len(gw.policies["local"]) != 0 {
		t.Errorf("expected no policies after abort, got %d", len(gw.policies["local"]))
	}
}

func TestBadCredentialsRejected(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	s, err := windns.New(logrtesting.NewTestLogger(t), map[string]string{
		"base_url": srv.URL,
		"username": "svc-dns",
		"password": "wrong",
	})
	if err != nil {
		t.Fatalf("failed to create windns client: %v", err)
	}

	if _, err := s.ListZones(context.Background()); err == nil {
		t.Fatal("expected error for bad credentials, got nil")
	}
}
