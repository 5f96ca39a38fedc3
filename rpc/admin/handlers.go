package admin

import (
	"encoding/json"
	"net/http"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Request Parsing Helpers
// --------------------------------------------------------------------------

// targetOf parses the optional ?target= query parameter. A missing parameter
// means no explicit target (raft picks the successor).
func targetOf(r *http.Request) (*model.NodeID, *cluster.Error) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return nil, nil
	}
	node, err := model.ParseNodeID(raw)
	if err != nil {
		return nil, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err)
	}
	return &node, nil
}

// ntpOf assembles the addressed topic-partition from the route.
func ntpOf(r *http.Request) (model.NTP, *cluster.Error) {
	partition, err := model.ParsePartitionID(r.PathValue("partition"))
	if err != nil {
		return model.NTP{}, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err)
	}
	namespace, topic := r.PathValue("namespace"), r.PathValue("topic")
	if namespace == "" || topic == "" {
		return model.NTP{}, cluster.NewError(cluster.ErrCInvalidArgument, "namespace and topic must not be empty")
	}
	return model.NTP{Namespace: namespace, Topic: topic, Partition: partition}, nil
}

// --------------------------------------------------------------------------
// Control Routes
// --------------------------------------------------------------------------

func (s *AdminServer) handleRaftTransfer(w http.ResponseWriter, r *http.Request) {
	group, err := model.ParseGroupID(r.PathValue("group"))
	if err != nil {
		writeResult(w, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err))
		return
	}
	target, cerr := targetOf(r)
	if cerr != nil {
		writeResult(w, cerr)
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.dispatcher.TransferGroupLeadership(ctx, group, target)
	}))
}

func (s *AdminServer) handlePartitionTransfer(w http.ResponseWriter, r *http.Request) {
	ntp, cerr := ntpOf(r)
	if cerr != nil {
		writeResult(w, cerr)
		return
	}
	target, cerr := targetOf(r)
	if cerr != nil {
		writeResult(w, cerr)
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.dispatcher.TransferPartitionLeadership(ctx, ntp, target)
	}))
}

func (s *AdminServer) handleMoveReplicas(w http.ResponseWriter, r *http.Request) {
	ntp, cerr := ntpOf(r)
	if cerr != nil {
		writeResult(w, cerr)
		return
	}

	// the target replica set is a flat node,shard pair list, e.g. "1,0,2,1"
	replicas, err := model.ParseBrokerShards(r.URL.Query().Get("target"))
	if err != nil {
		writeResult(w, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err))
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.dispatcher.MovePartitionReplicas(ctx, ntp, replicas)
	}))
}

// --------------------------------------------------------------------------
// Security Routes
// --------------------------------------------------------------------------

// userRequest is the body of user create/update calls. The credential is
// opaque to this layer.
type userRequest struct {
	User       string `json:"user"`
	Credential string `json:"credential"`
}

func (s *AdminServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		writeResult(w, cluster.NewError(cluster.ErrCInvalidArgument, "request must name a user"))
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.security.CreateUser(ctx, req.User, []byte(req.Credential))
	}))
}

func (s *AdminServer) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, cluster.NewError(cluster.ErrCInvalidArgument, "malformed request body"))
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.security.UpdateUser(ctx, user, []byte(req.Credential))
	}))
}

func (s *AdminServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	writeResult(w, s.guard(ctx, func() *cluster.Error {
		return s.security.DeleteUser(ctx, r.PathValue("user"))
	}))
}

func (s *AdminServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	var users []string
	cerr := s.guard(ctx, func() *cluster.Error {
		var cerr *cluster.Error
		users, cerr = s.security.ListUsers(ctx)
		return cerr
	})
	if cerr != nil {
		writeResult(w, cerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// --------------------------------------------------------------------------
// Introspection Routes
// --------------------------------------------------------------------------

func (s *AdminServer) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config)
}

func (s *AdminServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	metrics.WritePrometheus(w, true)
}
