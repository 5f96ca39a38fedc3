package client

import (
	"fmt"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
	"github.com/ValentinKolb/dMQ/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// TransportFactory creates a fresh client transport. Each cached node gets
// its own transport so one node's connection failures do not affect others.
type TransportFactory func() transport.IRPCClientTransport

// ConnCache caches one control client per remote node. Clients are created
// lazily on first use and reused until removed or the cache is closed.
type ConnCache struct {
	config     common.ClientConfig
	factory    TransportFactory
	serializer serializer.IRPCSerializer
	clients    *xsync.MapOf[model.NodeID, IControlClient]
}

// NewConnCache creates a connection cache. The config acts as a template:
// its endpoint list is replaced per node.
func NewConnCache(config common.ClientConfig, factory TransportFactory, serializer serializer.IRPCSerializer) (*ConnCache, error) {
	if factory == nil || serializer == nil {
		return nil, fmt.Errorf("connection cache requires a transport factory and a serializer")
	}
	return &ConnCache{
		config:     config,
		factory:    factory,
		serializer: serializer,
		clients:    xsync.NewMapOf[model.NodeID, IControlClient](),
	}, nil
}

// Get returns the cached client for the node, dialing the endpoint on first
// use. Concurrent first calls may both dial; the loser is closed.
func (c *ConnCache) Get(node model.NodeID, endpoint string) (IControlClient, error) {
	if cached, ok := c.clients.Load(node); ok {
		return cached, nil
	}

	cfg := c.config
	cfg.Endpoints = []string{endpoint}
	created, err := NewControlClient(cfg, c.factory(), c.serializer)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node %s (%s): %w", node, endpoint, err)
	}

	actual, loaded := c.clients.LoadOrStore(node, created)
	if loaded {
		_ = created.Close()
		return actual, nil
	}
	Logger.Infof("cached control connection to node %s (%s)", node, endpoint)
	return created, nil
}

// Remove drops and closes the cached client for the node, e.g. after the
// node left the cluster or its connection went bad.
func (c *ConnCache) Remove(node model.NodeID) {
	if cached, ok := c.clients.LoadAndDelete(node); ok {
		_ = cached.Close()
		Logger.Infof("dropped control connection to node %s", node)
	}
}

// Close closes all cached clients.
func (c *ConnCache) Close() error {
	var firstErr error
	c.clients.Range(func(node model.NodeID, cached IControlClient) bool {
		if err := cached.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.clients.Delete(node)
		return true
	})
	return firstErr
}
