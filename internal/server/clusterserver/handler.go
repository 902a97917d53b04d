package clusterserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keydist"
)

// KeyService procedures.
const (
	KeyServiceName      = "cloudlock.cluster.v1.KeyService"
	UpdateKeyProcedure  = "/" + KeyServiceName + "/UpdateKey"
	NodeStatusProcedure = "/" + KeyServiceName + "/NodeStatus"
)

// NodeStatusRequest is the empty NodeStatus request.
type NodeStatusRequest struct{}

// NodeStatus describes the key state of one node.
type NodeStatus struct {
	NodeID              string `json:"node_id"`
	NodeName            string `json:"node_name"`
	IsLeader            bool   `json:"is_leader"`
	KeySet              bool   `json:"key_set"`
	KeyID               string `json:"key_id,omitempty"`
	PublicKeyConfigured bool   `json:"public_key_configured"`
}

// Applier installs a received hierarchy on this node.
type Applier interface {
	Apply(ctx context.Context, req *keydist.UpdateKeyRequest) (*keydist.NodeResponse, error)
}

// StatusFunc reports the local node status.
type StatusFunc func() NodeStatus

// Handler implements the KeyService RPC handlers.
type Handler struct {
	applier Applier
	status  StatusFunc
	logger  *slog.Logger
}

// NewHandler creates a new RPC handler.
func NewHandler(applier Applier, status StatusFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{applier: applier, status: status, logger: logger}
}

// UpdateKey handles the UpdateKey RPC sent by the leader.
func (h *Handler) UpdateKey(
	ctx context.Context,
	req *connect.Request[keydist.UpdateKeyRequest],
) (*connect.Response[keydist.NodeResponse], error) {
	h.logger.Info("update key request received", "leader", req.Msg.LeaderID)

	resp, err := h.applier.Apply(ctx, req.Msg)
	if err != nil {
		h.logger.Error("apply cluster key failed", "leader", req.Msg.LeaderID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(resp), nil
}

// NodeStatus handles the NodeStatus RPC.
func (h *Handler) NodeStatus(
	ctx context.Context,
	req *connect.Request[NodeStatusRequest],
) (*connect.Response[NodeStatus], error) {
	if h.status == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("node status not available"))
	}
	st := h.status()
	return connect.NewResponse(&st), nil
}

// NewKeyServiceHandler mounts the handlers and returns the path prefix to
// register them under.
func NewKeyServiceHandler(h *Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(UpdateKeyProcedure, connect.NewUnaryHandler(UpdateKeyProcedure, h.UpdateKey, opts...))
	mux.Handle(NodeStatusProcedure, connect.NewUnaryHandler(NodeStatusProcedure, h.NodeStatus, opts...))
	return "/" + KeyServiceName + "/", mux
}

// toConnectError maps domain errors to Connect codes.
func toConnectError(err error) *connect.Error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	code := connect.CodeInternal
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrAuthentication):
		code = connect.CodePermissionDenied
	case errors.Is(err, domain.ErrKeyNotReady):
		code = connect.CodeUnavailable
	case domain.IsPrecondition(err):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	return connect.NewError(code, err)
}
