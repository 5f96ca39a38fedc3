package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/sched"
	"github.com/ValentinKolb/dMQ/rpc/common"
)

// --------------------------------------------------------------------------
// Fakes / Setup
// --------------------------------------------------------------------------

// fakeDispatcher records the last call and answers with a canned result.
type fakeDispatcher struct {
	result *cluster.Error

	calls    int
	group    model.GroupID
	ntp      model.NTP
	target   *model.NodeID
	replicas []model.BrokerShard
}

func (d *fakeDispatcher) TransferGroupLeadership(_ context.Context, group model.GroupID, target *model.NodeID) *cluster.Error {
	d.calls++
	d.group, d.target = group, target
	return d.result
}

func (d *fakeDispatcher) TransferPartitionLeadership(_ context.Context, ntp model.NTP, target *model.NodeID) *cluster.Error {
	d.calls++
	d.ntp, d.target = ntp, target
	return d.result
}

func (d *fakeDispatcher) MovePartitionReplicas(_ context.Context, ntp model.NTP, replicas []model.BrokerShard) *cluster.Error {
	d.calls++
	d.ntp, d.replicas = ntp, replicas
	return d.result
}

func newTestAdmin(t *testing.T) (*httptest.Server, *fakeDispatcher) {
	t.Helper()

	// a controller without raft peers keeps all metadata local
	controller, err := cluster.NewController(cluster.ControllerConfig{Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := controller.Start(); err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
	t.Cleanup(func() { _ = controller.Stop() })

	domains, err := sched.CreateDomains(sched.DefaultDomainSpecs())
	if err != nil {
		t.Fatalf("failed to create domains: %v", err)
	}
	domain, err := domains.Get(sched.DomainAdmin)
	if err != nil {
		t.Fatalf("failed to get admin domain: %v", err)
	}
	groups, err := sched.CreateAdmissionGroups(sched.DefaultAdmissionSpecs())
	if err != nil {
		t.Fatalf("failed to create admission groups: %v", err)
	}
	admission, err := groups.Get(sched.DomainAdmin)
	if err != nil {
		t.Fatalf("failed to get admin admission group: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	s, err := NewAdminServer(common.ServerConfig{TimeoutSecond: 1}, dispatcher, controller, domain, admission)
	if err != nil {
		t.Fatalf("failed to create admin server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, dispatcher
}

func do(t *testing.T, method, url string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// --------------------------------------------------------------------------
// Control Routes
// --------------------------------------------------------------------------

// TestAdminRaftTransfer tests the raft leadership transfer route including
// target parsing.
func TestAdminRaftTransfer(t *testing.T) {
	ts, dispatcher := newTestAdmin(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/raft/7/transfer_leadership?target=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dispatcher.group != 7 || dispatcher.target == nil || *dispatcher.target != 2 {
		t.Fatalf("transfer not carried through: group %v target %v", dispatcher.group, dispatcher.target)
	}

	// no target: raft picks the successor
	resp = do(t, http.MethodPost, ts.URL+"/v1/raft/7/transfer_leadership", "")
	if resp.StatusCode != http.StatusOK || dispatcher.target != nil {
		t.Fatalf("expected targetless transfer, got %d target %v", resp.StatusCode, dispatcher.target)
	}

	// malformed group id
	resp = do(t, http.MethodPost, ts.URL+"/v1/raft/abc/transfer_leadership", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed group, got %d", resp.StatusCode)
	}
}

// TestAdminPartitionTransfer tests the topic-partition transfer route.
func TestAdminPartitionTransfer(t *testing.T) {
	ts, dispatcher := newTestAdmin(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/partitions/kafka/orders/3/transfer_leadership?target=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dispatcher.ntp != model.NewKafkaNTP("orders", 3) {
		t.Fatalf("unexpected ntp: %v", dispatcher.ntp)
	}

	resp = do(t, http.MethodPost, ts.URL+"/v1/partitions/kafka/orders/x/transfer_leadership", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed partition, got %d", resp.StatusCode)
	}
}

// TestAdminMoveReplicas tests replica movement including the odd-count
// rejection rule.
func TestAdminMoveReplicas(t *testing.T) {
	ts, dispatcher := newTestAdmin(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/partitions/kafka/orders/0/move_replicas?target=1,0,2,1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	want := []model.BrokerShard{{Node: 1, Shard: 0}, {Node: 2, Shard: 1}}
	if len(dispatcher.replicas) != 2 || dispatcher.replicas[0] != want[0] || dispatcher.replicas[1] != want[1] {
		t.Fatalf("unexpected replicas: %v", dispatcher.replicas)
	}

	calls := dispatcher.calls
	resp = do(t, http.MethodPost, ts.URL+"/v1/partitions/kafka/orders/0/move_replicas?target=1,0,2", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for odd pair count, got %d", resp.StatusCode)
	}
	if dispatcher.calls != calls {
		t.Fatal("malformed move must not reach the dispatcher")
	}
}

// TestAdminStatusMapping tests the taxonomy to HTTP status translation.
func TestAdminStatusMapping(t *testing.T) {
	ts, dispatcher := newTestAdmin(t)

	cases := []struct {
		code cluster.ErrCode
		want int
	}{
		{cluster.ErrCInvalidArgument, http.StatusBadRequest},
		{cluster.ErrCInFlightChange, http.StatusBadRequest},
		{cluster.ErrCNotFound, http.StatusNotFound},
		{cluster.ErrCNotLeader, http.StatusServiceUnavailable},
		{cluster.ErrCShuttingDown, http.StatusServiceUnavailable},
		{cluster.ErrCTimeout, http.StatusGatewayTimeout},
		{cluster.ErrCInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		dispatcher.result = cluster.NewError(c.code, "test")
		resp := do(t, http.MethodPost, ts.URL+"/v1/raft/1/transfer_leadership", "")
		if resp.StatusCode != c.want {
			t.Errorf("code %s: expected %d, got %d", c.code, c.want, resp.StatusCode)
		}
	}
}

// TestAdminRetainsDomain tests that the admin domain cannot be destroyed
// while the server can still execute requests
func TestAdminRetainsDomain(t *testing.T) {
	domains, err := sched.CreateDomains(sched.DefaultDomainSpecs())
	if err != nil {
		t.Fatalf("failed to create domains: %v", err)
	}
	domain, err := domains.Get(sched.DomainAdmin)
	if err != nil {
		t.Fatalf("failed to get admin domain: %v", err)
	}

	s, err := NewAdminServer(common.ServerConfig{TimeoutSecond: 1}, &fakeDispatcher{}, nil, domain, nil)
	if err != nil {
		t.Fatalf("failed to create admin server: %v", err)
	}

	if err := domains.Destroy(); err == nil {
		t.Fatal("expected destroy to fail while the admin server holds the domain")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("failed to close admin server: %v", err)
	}
	if err := domains.Destroy(); err != nil {
		t.Fatalf("expected destroy to succeed after close, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Security Routes
// --------------------------------------------------------------------------

// TestAdminUserLifecycle tests user create/list/update/delete against a live
// controller.
func TestAdminUserLifecycle(t *testing.T) {
	ts, _ := newTestAdmin(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/security/users", `{"user":"alice","credential":"secret"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// duplicate create is a client error
	resp = do(t, http.MethodPost, ts.URL+"/v1/security/users", `{"user":"alice","credential":"secret"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate user, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/v1/security/users", "")
	var listing struct {
		Users []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Users) != 1 || listing.Users[0] != "alice" {
		t.Fatalf("unexpected user listing: %v", listing.Users)
	}

	resp = do(t, http.MethodPut, ts.URL+"/v1/security/users/alice", `{"credential":"rotated"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d", resp.StatusCode)
	}

	// updating an unknown user is not-found
	resp = do(t, http.MethodPut, ts.URL+"/v1/security/users/bob", `{"credential":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, ts.URL+"/v1/security/users/alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", resp.StatusCode)
	}

	// empty user name is rejected
	resp = do(t, http.MethodPost, ts.URL+"/v1/security/users", `{"credential":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unnamed user, got %d", resp.StatusCode)
	}
}

// --------------------------------------------------------------------------
// Introspection Routes
// --------------------------------------------------------------------------

// TestAdminConfigDump tests the config dump route.
func TestAdminConfigDump(t *testing.T) {
	ts, _ := newTestAdmin(t)

	resp := do(t, http.MethodGet, ts.URL+"/v1/config", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cfg common.ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if cfg.TimeoutSecond != 1 {
		t.Fatalf("unexpected config dump: %+v", cfg)
	}
}

// TestAdminMetrics tests that the metrics endpoint serves the uptime gauge.
func TestAdminMetrics(t *testing.T) {
	ts, _ := newTestAdmin(t)

	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	if !strings.Contains(string(body), "dmq_uptime_seconds") {
		t.Error("metrics output missing uptime gauge")
	}
}
