package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMQ/lib/sched"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
	"github.com/ValentinKolb/dMQ/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// registeredService is one handler registered under a service tag. Requests
// for the tag execute under the service's scheduling domain and admission
// budget, so one busy service cannot starve the others on the shared
// listener.
type registeredService struct {
	Name      string
	Domain    *sched.Domain
	Admission *sched.AdmissionGroup
	Adapter   IRPCServerAdapter
}

// NewRPCServer creates a new control-plane RPC server. Handlers are
// registered per service tag before Serve is called; one listener
// multiplexes all of them.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	_ = s.Register(common.ServiceRaft, "raft", raftDomain, raftAdmission, raftAdapter)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("created control RPC server")

	return &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		services:   xsync.NewMapOf[uint64, registeredService](),
	}
}

type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	services   *xsync.MapOf[uint64, registeredService]
	closed     atomic.Bool
}

// Register binds an adapter to a service tag together with the scheduling
// domain and admission budget its requests run under. The domain is retained
// for the lifetime of the registration (released by Close), so it cannot be
// destroyed while the service can still execute requests. Registering two
// adapters under the same tag is a configuration error, not a silent
// overwrite.
func (s *Server) Register(tag common.ServiceTag, name string, domain *sched.Domain, admission *sched.AdmissionGroup, adapter IRPCServerAdapter) error {
	if adapter == nil {
		return fmt.Errorf("service %s: adapter is nil", tag)
	}
	if domain == nil {
		return fmt.Errorf("service %s: scheduling domain is nil", tag)
	}
	if admission == nil {
		return fmt.Errorf("service %s: admission group is nil", tag)
	}
	if err := domain.Retain(); err != nil {
		return fmt.Errorf("service %s: %w", tag, err)
	}

	svc := registeredService{Name: name, Domain: domain, Admission: admission, Adapter: adapter}
	if _, loaded := s.services.LoadOrStore(uint64(tag), svc); loaded {
		domain.Release()
		return fmt.Errorf("service %s already registered", tag)
	}
	Logger.Infof("registered service %s (%s, domain=%s, admission=%s)", tag, name, domain.Name(), admission.Name())
	return nil
}

func (s *Server) registerTransportHandler() {
	s.transport.RegisterHandler(func(service uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get the service the request addresses
		svc, ok := s.services.Load(service)

		// Case service does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("unknown service: %s", common.ServiceTag(service)),
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request under the service's budgets
				respMsg = s.execute(svc, &msg)
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(common.Message{
				MsgType: common.MsgTError,
				Err:     "failed to serialize response",
			})
		}
		return val
	})
}

// execute runs one request through the service's admission budget and
// scheduling domain. An exhausted budget makes the request wait; a destroyed
// domain rejects it outright.
func (s *Server) execute(svc registeredService, msg *common.Message) common.Message {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	if err := svc.Admission.Acquire(ctx); err != nil {
		return common.Message{
			MsgType: common.MsgTError,
			Err:     fmt.Sprintf("service %s overloaded: %s", svc.Name, err),
		}
	}
	defer svc.Admission.Release()

	var resp common.Message
	if err := svc.Domain.With(ctx, func() error {
		resp = *svc.Adapter.Handle(msg)
		return nil
	}); err != nil {
		return common.Message{
			MsgType: common.MsgTError,
			Err:     fmt.Sprintf("service %s unavailable: %s", svc.Name, err),
		}
	}
	return resp
}

func (s *Server) timeout() time.Duration {
	if s.config.TimeoutSecond <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.config.TimeoutSecond) * time.Second
}

// Serve starts the RPC server and blocks until the transport is closed.
func (s *Server) Serve() error {
	s.registerTransportHandler()
	return s.transport.Listen(s.config)
}

// Close stops the transport listener, unblocking Serve, and releases the
// scheduling domains retained by the registrations.
func (s *Server) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.services.Range(func(_ uint64, svc registeredService) bool {
			svc.Domain.Release()
			return true
		})
	}
	return s.transport.Close()
}
