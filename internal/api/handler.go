// Package api is the human- and agent-facing HTTP surface (C10): agent
// CRUD and lifecycle control, chat/task dispatch, execution reads and
// cancellation, schedule management, and the permission/sharing surface.
// It is a thin translation layer — every operation it exposes delegates
// straight to the lifecycle manager, the state store, the RPC gateway, the
// execution queue, the ledger, or the scheduler; this package owns no
// business rules of its own beyond request validation and error shaping.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/ledger"
	"github.com/kandev/orchestrator/internal/lifecycle"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/scheduler"
	"github.com/kandev/orchestrator/internal/store"
)

// Handler holds every dependency the route handlers need. Nothing here is
// optional except eventBus, whose absence only makes the execution
// stream endpoint answer with a service-unavailable error.
type Handler struct {
	store       *store.Store
	lifecycle   *lifecycle.Manager
	gateway     *rpcgateway.Gateway
	agentClient rpcgateway.AgentClient
	queue       *queue.Queue
	ledger      *ledger.Ledger
	scheduler   *scheduler.Scheduler
	bus         bus.EventBus

	systemAgentName string
	logger          *logger.Logger
}

// Deps bundles the constructor arguments so SetupRoutes's caller (cmd/orchestrator)
// does not have to name nine positional parameters at the call site.
type Deps struct {
	Store           *store.Store
	Lifecycle       *lifecycle.Manager
	Gateway         *rpcgateway.Gateway
	AgentClient     rpcgateway.AgentClient
	Queue           *queue.Queue
	Ledger          *ledger.Ledger
	Scheduler       *scheduler.Scheduler
	Bus             bus.EventBus
	SystemAgentName string
}

// NewHandler wires a handler atop every control-plane component the HTTP
// surface fronts.
func NewHandler(d Deps, log *logger.Logger) *Handler {
	return &Handler{
		store:           d.Store,
		lifecycle:       d.Lifecycle,
		gateway:         d.Gateway,
		agentClient:     d.AgentClient,
		queue:           d.Queue,
		ledger:          d.Ledger,
		scheduler:       d.Scheduler,
		bus:             d.Bus,
		systemAgentName: d.SystemAgentName,
		logger:          log.WithFields(zap.String("component", "api")),
	}
}

// writeError renders err as the AppError it already is, translates the
// gateway's distinct permission error into one, or wraps it as an internal
// error when some lower layer returned a bare error instead.
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	var denied *rpcgateway.PermissionDeniedError
	if errors.As(err, &denied) {
		ae := apperrors.Forbidden(denied.Error())
		c.JSON(ae.HTTPStatus, ae)
		return
	}
	ae := apperrors.InternalError("internal error", err)
	c.JSON(ae.HTTPStatus, ae)
}

func writeOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
