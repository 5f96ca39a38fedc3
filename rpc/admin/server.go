package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/sched"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("admin")

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// IDispatcher is the slice of the dispatch layer the admin API uses.
type IDispatcher interface {
	TransferGroupLeadership(ctx context.Context, group model.GroupID, target *model.NodeID) *cluster.Error
	TransferPartitionLeadership(ctx context.Context, ntp model.NTP, target *model.NodeID) *cluster.Error
	MovePartitionReplicas(ctx context.Context, ntp model.NTP, replicas []model.BrokerShard) *cluster.Error
}

// ISecurityFrontend is the controller's credential store frontend.
type ISecurityFrontend interface {
	CreateUser(ctx context.Context, user string, credential []byte) *cluster.Error
	UpdateUser(ctx context.Context, user string, credential []byte) *cluster.Error
	DeleteUser(ctx context.Context, user string) *cluster.Error
	ListUsers(ctx context.Context) ([]string, *cluster.Error)
}

// --------------------------------------------------------------------------
// Admin Server
// --------------------------------------------------------------------------

// AdminServer serves the admin HTTP API on the configured admin endpoint.
// Mutating routes run under the admin scheduling domain and admission budget
// when one is configured.
type AdminServer struct {
	config     common.ServerConfig
	dispatcher IDispatcher
	security   ISecurityFrontend
	domain     *sched.Domain
	admission  *sched.AdmissionGroup
	server     *http.Server
	creds      *common.ReloadableCreds
	started    time.Time
	closed     atomic.Bool
}

// NewAdminServer creates the admin server. The security frontend may be nil,
// disabling the /v1/security routes. domain and admission may be nil, in
// which case routes run unbudgeted; a non-nil domain is retained until Close.
func NewAdminServer(config common.ServerConfig, dispatcher IDispatcher, security ISecurityFrontend, domain *sched.Domain, admission *sched.AdmissionGroup) (*AdminServer, error) {
	if dispatcher == nil {
		return nil, errors.New("admin server requires a dispatcher")
	}
	if domain != nil {
		if err := domain.Retain(); err != nil {
			return nil, err
		}
	}

	s := &AdminServer{
		config:     config,
		dispatcher: dispatcher,
		security:   security,
		domain:     domain,
		admission:  admission,
		started:    time.Now(),
	}

	metrics.GetOrCreateGauge(`dmq_uptime_seconds`, func() float64 {
		return time.Since(s.started).Seconds()
	})

	return s, nil
}

// guard runs one mutating admin operation through the admission budget and
// the scheduling domain. Missing budgets run the operation directly.
func (s *AdminServer) guard(ctx context.Context, fn func() *cluster.Error) *cluster.Error {
	if s.admission != nil {
		if err := s.admission.Acquire(ctx); err != nil {
			return cluster.NewErrorf(cluster.ErrCTimeout, "admin api overloaded: %v", err)
		}
		defer s.admission.Release()
	}
	if s.domain == nil {
		return fn()
	}

	var cerr *cluster.Error
	if err := s.domain.With(ctx, func() error {
		cerr = fn()
		return nil
	}); err != nil {
		return cluster.NewErrorf(cluster.ErrCShuttingDown, "admin api unavailable: %v", err)
	}
	return cerr
}

// Handler returns the route multiplexer, exposed for tests.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/raft/{group}/transfer_leadership", s.handleRaftTransfer)
	mux.HandleFunc("POST /v1/partitions/{namespace}/{topic}/{partition}/transfer_leadership", s.handlePartitionTransfer)
	mux.HandleFunc("POST /v1/partitions/{namespace}/{topic}/{partition}/move_replicas", s.handleMoveReplicas)
	if s.security != nil {
		mux.HandleFunc("POST /v1/security/users", s.handleCreateUser)
		mux.HandleFunc("PUT /v1/security/users/{user}", s.handleUpdateUser)
		mux.HandleFunc("DELETE /v1/security/users/{user}", s.handleDeleteUser)
		mux.HandleFunc("GET /v1/security/users", s.handleListUsers)
	}
	mux.HandleFunc("GET /v1/config", s.handleConfig)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return mux
}

// Serve starts the admin server and blocks until Close.
func (s *AdminServer) Serve() error {
	Logger.Infof("starting admin server on %s", s.config.AdminEndpoint)

	s.server = &http.Server{Addr: s.config.AdminEndpoint, Handler: s.Handler()}

	var err error
	if s.config.AdminTLS.Enabled() {
		creds, credsErr := common.NewReloadableCreds(s.config.AdminTLS)
		if credsErr != nil {
			return credsErr
		}
		if credsErr := creds.Watch(); credsErr != nil {
			return credsErr
		}
		s.creds = creds
		s.server.TLSConfig = creds.ServerConfig()
		err = s.server.ListenAndServeTLS("", "")
	} else {
		err = s.server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the admin server, unblocking Serve, and releases the retained
// scheduling domain.
func (s *AdminServer) Close() error {
	if s.closed.CompareAndSwap(false, true) && s.domain != nil {
		s.domain.Release()
	}
	if s.creds != nil {
		s.creds.Close()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// --------------------------------------------------------------------------
// Result Encoding
// --------------------------------------------------------------------------

// statusOf maps the result taxonomy onto HTTP status codes.
func statusOf(cerr *cluster.Error) int {
	switch cerr.Code {
	case cluster.ErrCInvalidArgument, cluster.ErrCInFlightChange:
		return http.StatusBadRequest
	case cluster.ErrCNotFound:
		return http.StatusNotFound
	case cluster.ErrCNotLeader, cluster.ErrCShuttingDown:
		return http.StatusServiceUnavailable
	case cluster.ErrCTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeResult encodes an operation result. Success is an empty 200.
func writeResult(w http.ResponseWriter, cerr *cluster.Error) {
	if cerr == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(w, statusOf(cerr), map[string]any{
		"ok":      false,
		"code":    cerr.Code.String(),
		"message": cerr.Msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		Logger.Errorf("failed to write response: %v", err)
	}
}

// opContext derives the per-request timeout from the server config.
func (s *AdminServer) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}
