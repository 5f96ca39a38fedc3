package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/kafka"
	"github.com/ValentinKolb/dMQ/lib/lifecycle"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/sched"
	"github.com/ValentinKolb/dMQ/lib/shard"
	"github.com/ValentinKolb/dMQ/lib/storage"
	"github.com/ValentinKolb/dMQ/rpc/admin"
	"github.com/ValentinKolb/dMQ/rpc/client"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/dispatch"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
	"github.com/ValentinKolb/dMQ/rpc/server"
	"github.com/ValentinKolb/dMQ/rpc/transport"
	"github.com/ValentinKolb/dMQ/rpc/transport/tcp"
	"github.com/ValentinKolb/dMQ/rpc/transport/unix"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("node")

// coordinatorPartitions is the partition count of the internal offsets topic.
const coordinatorPartitions = 16

const (
	// idAllocatorBlock is the number of ids reserved per controller round trip.
	idAllocatorBlock = 1000

	// Quota accounting for idle clients is dropped after quotaIdleAfter,
	// checked every quotaPruneInterval.
	quotaPruneInterval = time.Minute
	quotaIdleAfter     = 10 * time.Minute
)

// Node is the assembled broker node. Create it with New, then Wire, Start,
// and eventually Stop.
type Node struct {
	cfg      common.ServerConfig
	teardown *lifecycle.Stack

	domains   *sched.Domains
	admission *sched.AdmissionGroups
	runtime   *shard.Runtime
	nh        *dragonboat.NodeHost

	stores     *shard.Sharded[*storage.Store]
	conns      *client.ConnCache
	table      *cluster.ShardTable
	raftGroups *shard.Sharded[*cluster.RaftGroupManager]
	partitions *shard.Sharded[*cluster.PartitionManager]
	controller *cluster.Controller
	ids        *cluster.IDAllocator
	caches     *shard.Sharded[*cluster.MetadataCache]
	// dispatchView is the extra metadata cache the dispatcher validates
	// transfer targets against; it is refreshed like the per-shard caches.
	dispatchView *cluster.MetadataCache
	dissem       *cluster.DisseminationService

	router   *kafka.GroupRouter
	quotas   *shard.Sharded[*kafka.QuotaManager]
	sessions *shard.Sharded[*kafka.FetchSessionCache]

	dispatcher *dispatch.Dispatcher
	rpc        *server.Server
	admin      *admin.AdminServer

	serveErr chan error
}

// New creates an unwired node.
func New(cfg common.ServerConfig) *Node {
	return &Node{
		cfg:      cfg,
		teardown: lifecycle.NewStack(),
		serveErr: make(chan error, 2),
	}
}

// --------------------------------------------------------------------------
// Construction Pipeline
// --------------------------------------------------------------------------

// wireStep is one construction step. Its fn constructs a service and pushes
// the matching teardown action before returning.
type wireStep struct {
	name string
	fn   func(ctx context.Context) error
}

// runPipeline executes construction steps in order. The first failure unwinds
// every teardown action pushed so far, in reverse, and aborts the pipeline.
func runPipeline(ctx context.Context, steps []wireStep, teardown *lifecycle.Stack) error {
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			log.Errorf("wiring %s failed, unwinding: %v", step.name, err)
			teardown.Unwind()
			return fmt.Errorf("wiring %s: %w", step.name, err)
		}
		log.Debugf("wired %s", step.name)
	}
	return nil
}

// Wire constructs every service of the node in dependency order. No network
// listener is started; that happens in Start.
func (n *Node) Wire(ctx context.Context) error {
	return runPipeline(ctx, []wireStep{
		{"scheduling domains", n.wireDomains},
		{"admission groups", n.wireAdmission},
		{"shard runtime", n.wireRuntime},
		{"raft transport", n.wireRaftTransport},
		{"storage", n.wireStorage},
		{"connection cache", n.wireConnCache},
		{"shard table", n.wireShardTable},
		{"raft group managers", n.wireRaftGroups},
		{"partition managers", n.wirePartitions},
		{"controller", n.wireController},
		{"metadata dissemination", n.wireMetadata},
		{"kafka services", n.wireKafka},
		{"dispatcher", n.wireDispatcher},
		{"rpc server", n.wireRPCServer},
		{"admin server", n.wireAdminServer},
	}, n.teardown)
}

func (n *Node) wireDomains(_ context.Context) error {
	domains, err := sched.CreateDomains(sched.DefaultDomainSpecs())
	if err != nil {
		return err
	}
	n.domains = domains
	n.teardown.Push("scheduling domains", n.domains.Destroy)
	return nil
}

func (n *Node) wireAdmission(_ context.Context) error {
	admission, err := sched.CreateAdmissionGroups(sched.DefaultAdmissionSpecs())
	if err != nil {
		return err
	}
	n.admission = admission
	n.teardown.Push("admission groups", func() error {
		n.admission.Destroy()
		return nil
	})
	return nil
}

func (n *Node) wireRuntime(_ context.Context) error {
	n.runtime = shard.NewRuntime(n.cfg.Shards)
	n.runtime.Start()
	n.teardown.Push("shard runtime", func() error {
		n.runtime.Stop()
		return nil
	})
	return nil
}

func (n *Node) wireRaftTransport(_ context.Context) error {
	if !n.cfg.Clustered() {
		return nil
	}
	nh, err := dragonboat.NewNodeHost(n.cfg.ToNodeHostConfig())
	if err != nil {
		return err
	}
	n.nh = nh
	n.teardown.Push("raft transport", func() error {
		n.nh.Close()
		return nil
	})
	return nil
}

func (n *Node) wireStorage(ctx context.Context) error {
	stores, err := shard.NewSharded(ctx, n.runtime, func(shardID uint32) (*storage.Store, error) {
		s, err := storage.NewStore(storage.Config{DataDir: n.cfg.DataDir}, shardID)
		if err != nil {
			return nil, err
		}
		return s, s.Start()
	})
	if err != nil {
		return err
	}
	n.stores = stores
	n.teardown.Push("storage", func() error {
		return n.stores.InvokeOnAll(context.Background(), func(_ uint32, s *storage.Store) error {
			return s.Stop()
		})
	})
	return nil
}

func (n *Node) wireConnCache(_ context.Context) error {
	conns, err := client.NewConnCache(common.ClientConfig{
		TimeoutSecond:          int(n.cfg.TimeoutSecond),
		RetryCount:             3,
		ConnectionsPerEndpoint: 1,
		TLS:                    n.cfg.ControlTLS,
	}, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
	if err != nil {
		return err
	}
	n.conns = conns
	n.teardown.Push("connection cache", n.conns.Close)
	return nil
}

func (n *Node) wireShardTable(_ context.Context) error {
	n.table = cluster.NewShardTable()
	return nil
}

func (n *Node) wireRaftGroups(ctx context.Context) error {
	raftCfg := cluster.RaftConfig{
		RTTMillisecond:     n.cfg.RTTMillisecond,
		SnapshotEntries:    n.cfg.SnapshotEntries,
		CompactionOverhead: n.cfg.CompactionOverhead,
		ElectionRTTFactor:  common.ElectionRTTFactor,
		HeartbeatRTTFactor: common.HeartbeatRTTFactor,
	}
	// groups led by a peer forward leadership transfers over its control
	// connection instead of failing locally
	forwarder := &peerForwarder{n: n}
	groups, err := shard.NewSharded(ctx, n.runtime, func(shardID uint32) (*cluster.RaftGroupManager, error) {
		return cluster.NewRaftGroupManager(shardID, n.nodeID(), n.cfg.ReplicaID, n.nh, forwarder, raftCfg)
	})
	if err != nil {
		return err
	}
	n.raftGroups = groups
	n.teardown.Push("raft group managers", func() error {
		return n.raftGroups.InvokeOnAll(context.Background(), func(_ uint32, m *cluster.RaftGroupManager) error {
			return m.Stop()
		})
	})
	return nil
}

func (n *Node) wirePartitions(ctx context.Context) error {
	partitions, err := shard.NewSharded(ctx, n.runtime, func(shardID uint32) (*cluster.PartitionManager, error) {
		return cluster.NewPartitionManager(shardID, n.stores.Local(shardID), n.raftGroups.Local(shardID))
	})
	if err != nil {
		return err
	}
	n.partitions = partitions
	n.teardown.Push("partition managers", func() error {
		return n.partitions.InvokeOnAll(context.Background(), func(_ uint32, m *cluster.PartitionManager) error {
			return m.Stop()
		})
	})
	return nil
}

func (n *Node) wireController(_ context.Context) error {
	controller, err := cluster.NewController(cluster.ControllerConfig{
		NodeID:    n.nodeID(),
		ReplicaID: n.cfg.ReplicaID,
		Members:   n.cfg.ClusterMembers,
		Timeout:   n.timeout(),
		Raft: cluster.RaftConfig{
			RTTMillisecond:     n.cfg.RTTMillisecond,
			SnapshotEntries:    n.cfg.SnapshotEntries,
			CompactionOverhead: n.cfg.CompactionOverhead,
			ElectionRTTFactor:  common.ElectionRTTFactor,
			HeartbeatRTTFactor: common.HeartbeatRTTFactor,
		},
	}, n.nh)
	if err != nil {
		return err
	}
	if err := controller.Start(); err != nil {
		return err
	}
	n.controller = controller
	n.teardown.Push("controller", n.controller.Stop)

	ids, err := cluster.NewIDAllocator(controller, idAllocatorBlock)
	if err != nil {
		return err
	}
	n.ids = ids
	return nil
}

func (n *Node) wireMetadata(ctx context.Context) error {
	// one cache per shard, plus one for the dispatcher's pre-dispatch checks
	sinks := make([]*cluster.MetadataCache, 0, n.runtime.Count()+1)

	caches, err := shard.NewSharded(ctx, n.runtime, func(shardID uint32) (*cluster.MetadataCache, error) {
		return cluster.NewMetadataCache(shardID)
	})
	if err != nil {
		return err
	}
	n.caches = caches
	for i := uint32(0); i < n.runtime.Count(); i++ {
		sinks = append(sinks, caches.Local(i))
	}

	dispatchView, err := cluster.NewMetadataCache(0)
	if err != nil {
		return err
	}
	n.dispatchView = dispatchView
	sinks = append(sinks, dispatchView)

	n.dissem = cluster.NewDisseminationService(
		n.controller,
		sinks,
		time.Duration(n.cfg.MetadataRefreshMillis)*time.Millisecond,
		n.timeout(),
	)
	if err := n.dissem.Start(); err != nil {
		return err
	}
	n.teardown.Push("metadata dissemination", n.dissem.Stop)
	return nil
}

func (n *Node) wireKafka(ctx context.Context) error {
	mapper, err := kafka.NewCoordinatorMapper(coordinatorPartitions)
	if err != nil {
		return err
	}
	router, err := kafka.NewGroupRouter(mapper, n.table)
	if err != nil {
		return err
	}
	n.router = router

	quotas, err := shard.NewSharded(ctx, n.runtime, func(_ uint32) (*kafka.QuotaManager, error) {
		return kafka.NewQuotaManager(kafka.QuotaConfig{}), nil
	})
	if err != nil {
		return err
	}
	n.quotas = quotas

	sessions, err := shard.NewSharded(ctx, n.runtime, func(_ uint32) (*kafka.FetchSessionCache, error) {
		return kafka.NewFetchSessionCache(1024)
	})
	if err != nil {
		return err
	}
	n.sessions = sessions

	// janitor dropping quota accounting for clients that went idle
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(quotaPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				_ = n.quotas.InvokeOnAll(context.Background(), func(_ uint32, q *kafka.QuotaManager) error {
					q.Prune(now.Add(-quotaIdleAfter))
					return nil
				})
			case <-stop:
				return
			}
		}
	}()
	n.teardown.Push("kafka services", func() error {
		close(stop)
		<-done
		return nil
	})
	return nil
}

func (n *Node) wireDispatcher(_ context.Context) error {
	group, err := n.admission.Get(sched.DomainCluster)
	if err != nil {
		return err
	}
	dispatcher, err := dispatch.NewDispatcher(
		n.table,
		&shardInvoker{partitions: n.partitions},
		n.dispatchView,
		n.controller,
		group,
	)
	if err != nil {
		return err
	}
	n.dispatcher = dispatcher
	return nil
}

func (n *Node) wireRPCServer(_ context.Context) error {
	// a path-shaped endpoint selects the unix socket transport
	var t transport.IRPCServerTransport
	if strings.HasPrefix(n.cfg.ControlEndpoint, "/") {
		t = unix.NewUnixServerTransport()
	} else {
		t = tcp.NewTCPServerTransport()
	}
	s := server.NewRPCServer(n.cfg, t, serializer.NewBinarySerializer())
	timeout := n.timeout()

	// each service runs under its own scheduling domain and admission budget
	register := func(tag common.ServiceTag, name string, adapter server.IRPCServerAdapter) error {
		domain, err := n.domains.Get(name)
		if err != nil {
			return err
		}
		admission, err := n.admission.Get(name)
		if err != nil {
			return err
		}
		return s.Register(tag, name, domain, admission, adapter)
	}
	if err := register(common.ServiceRaft, sched.DomainRaft, server.NewRaftServerAdapter(n.dispatcher, timeout)); err != nil {
		return err
	}
	if err := register(common.ServiceKafka, sched.DomainKafka, server.NewKafkaServerAdapter(n.dispatcher, timeout)); err != nil {
		return err
	}
	if err := register(common.ServiceCluster, sched.DomainCluster, server.NewClusterServerAdapter(n.dispatcher, timeout)); err != nil {
		return err
	}
	n.rpc = s
	n.teardown.Push("rpc server", n.rpc.Close)
	return nil
}

func (n *Node) wireAdminServer(_ context.Context) error {
	domain, err := n.domains.Get(sched.DomainAdmin)
	if err != nil {
		return err
	}
	admission, err := n.admission.Get(sched.DomainAdmin)
	if err != nil {
		return err
	}
	s, err := admin.NewAdminServer(n.cfg, n.dispatcher, n.controller, domain, admission)
	if err != nil {
		return err
	}
	n.admin = s
	n.teardown.Push("admin server", n.admin.Close)
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the network listeners of a wired node. The controller's
// input gate is pushed last so it is the first teardown action on Stop.
func (n *Node) Start() error {
	go func() {
		if err := n.rpc.Serve(); err != nil {
			n.serveErr <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		if err := n.admin.Serve(); err != nil {
			n.serveErr <- fmt.Errorf("admin server: %w", err)
		}
	}()

	n.teardown.Push("controller input", n.controller.ShutdownInput)
	log.Infof("node started (control=%s admin=%s shards=%d)",
		n.cfg.ControlEndpoint, n.cfg.AdminEndpoint, n.runtime.Count())
	return nil
}

// Err delivers fatal listener errors after Start.
func (n *Node) Err() <-chan error {
	return n.serveErr
}

// Stop tears the node down in strict reverse construction order. A second
// call is a no-op.
func (n *Node) Stop() {
	log.Infof("stopping node")
	n.teardown.Unwind()
}

// --------------------------------------------------------------------------
// Accessors / Helpers
// --------------------------------------------------------------------------

// Dispatcher exposes the control dispatcher (used by the admin CLI when it
// runs in-process, and by tests).
func (n *Node) Dispatcher() *dispatch.Dispatcher { return n.dispatcher }

// Controller exposes the metadata authority.
func (n *Node) Controller() *cluster.Controller { return n.controller }

// Router exposes the consumer group router.
func (n *Node) Router() *kafka.GroupRouter { return n.router }

// IDAllocator exposes the cluster-unique id allocator (producer ids).
func (n *Node) IDAllocator() *cluster.IDAllocator { return n.ids }

func (n *Node) nodeID() model.NodeID {
	return model.NodeID(n.cfg.ReplicaID)
}

func (n *Node) timeout() time.Duration {
	if n.cfg.TimeoutSecond <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.cfg.TimeoutSecond) * time.Second
}
