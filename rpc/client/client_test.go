package client

import (
	"testing"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
)

// fakeClientTransport loops requests back through a canned responder instead
// of a network connection.
type fakeClientTransport struct {
	respond  func(service uint64, req *common.Message) *common.Message
	services []uint64
	closed   bool
}

func (t *fakeClientTransport) Connect(_ common.ClientConfig) error { return nil }

func (t *fakeClientTransport) Send(service uint64, req []byte) ([]byte, error) {
	t.services = append(t.services, service)
	ser := serializer.NewJSONSerializer()
	msg := &common.Message{}
	if err := ser.Deserialize(req, msg); err != nil {
		return nil, err
	}
	return ser.Serialize(*t.respond(service, msg))
}

func (t *fakeClientTransport) Close() error {
	t.closed = true
	return nil
}

func newTestClient(t *testing.T, respond func(service uint64, req *common.Message) *common.Message) (IControlClient, *fakeClientTransport) {
	t.Helper()
	transport := &fakeClientTransport{respond: respond}
	c, err := NewControlClient(common.ClientConfig{}, transport, serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c, transport
}

// echoSuccess answers every request with a successful result of the same type.
func echoSuccess(_ uint64, req *common.Message) *common.Message {
	return common.NewResultResponse(req.MsgType, 0, "")
}

// TestClientRoutesByService verifies that each operation is sent under its
// service tag and a successful result maps to nil.
func TestClientRoutesByService(t *testing.T) {
	c, transport := newTestClient(t, echoSuccess)

	if cerr := c.TransferGroupLeadership(7, nil); cerr != nil {
		t.Fatalf("transfer failed: %v", cerr)
	}
	if cerr := c.TransferPartitionLeadership(model.NewKafkaNTP("orders", 0), nil); cerr != nil {
		t.Fatalf("transfer failed: %v", cerr)
	}
	if cerr := c.Ping(); cerr != nil {
		t.Fatalf("ping failed: %v", cerr)
	}

	want := []uint64{uint64(common.ServiceRaft), uint64(common.ServiceKafka), uint64(common.ServiceCluster)}
	if len(transport.services) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(transport.services))
	}
	for i, s := range want {
		if transport.services[i] != s {
			t.Errorf("request %d sent to service %d, expected %d", i, transport.services[i], s)
		}
	}
}

// TestClientCarriesTarget verifies that an explicit transfer target survives
// the wire, including node id 0.
func TestClientCarriesTarget(t *testing.T) {
	var seen *common.Message
	c, _ := newTestClient(t, func(_ uint64, req *common.Message) *common.Message {
		seen = req
		return common.NewResultResponse(req.MsgType, 0, "")
	})

	target := model.NodeID(0)
	if cerr := c.TransferGroupLeadership(7, &target); cerr != nil {
		t.Fatalf("transfer failed: %v", cerr)
	}
	if seen == nil || !seen.HasTarget || seen.Target != 0 {
		t.Fatalf("explicit target node 0 not carried: %+v", seen)
	}
}

// TestClientResultTaxonomy verifies that failed operations come back as
// taxonomy errors, not transport errors.
func TestClientResultTaxonomy(t *testing.T) {
	c, _ := newTestClient(t, func(_ uint64, req *common.Message) *common.Message {
		return common.NewResultResponse(req.MsgType, uint64(cluster.ErrCNotFound), "no such group")
	})

	cerr := c.TransferGroupLeadership(99, nil)
	if cerr == nil || cerr.Code != cluster.ErrCNotFound {
		t.Fatalf("expected not-found, got %v", cerr)
	}
	if !cerr.ClientError() {
		t.Fatal("not-found must be a client error")
	}
}

// TestClientTransportError verifies that an MsgTError response maps to the
// internal error code.
func TestClientTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(_ uint64, _ *common.Message) *common.Message {
		return common.NewErrorResponse("unknown service")
	})

	cerr := c.Ping()
	if cerr == nil || cerr.Code != cluster.ErrCInternal {
		t.Fatalf("expected internal error, got %v", cerr)
	}
}

// TestClientMoveReplicas verifies the flat pair encoding of a replica move.
func TestClientMoveReplicas(t *testing.T) {
	var seen *common.Message
	c, _ := newTestClient(t, func(_ uint64, req *common.Message) *common.Message {
		seen = req
		return common.NewResultResponse(req.MsgType, 0, "")
	})

	replicas := []model.BrokerShard{{Node: 1, Shard: 0}, {Node: 2, Shard: 3}}
	if cerr := c.MovePartitionReplicas(model.NewKafkaNTP("orders", 0), replicas); cerr != nil {
		t.Fatalf("move failed: %v", cerr)
	}
	if seen == nil || len(seen.Replicas) != 4 {
		t.Fatalf("expected 4 wire integers, got %+v", seen)
	}
	if seen.NTP != "kafka/orders/0" {
		t.Errorf("unexpected ntp on the wire: %s", seen.NTP)
	}
}

// TestClientClose verifies Close reaches the transport.
func TestClientClose(t *testing.T) {
	c, transport := newTestClient(t, echoSuccess)
	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !transport.closed {
		t.Fatal("transport not closed")
	}
}
