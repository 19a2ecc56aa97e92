package reconciliation

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"google.golang.org/grpc"
)

var Module = fx.Module("reconciliation.module",
	fx.Provide(NewRunner, NewReviewer),
)

var Server = fx.Module("reconciliation.server",
	fx.Provide(NewHandler, NewGRPCServer),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
	fx.Invoke(func(s *grpc.Server, srv *GRPCServer) { RegisterReconciliationServer(s, srv) }),
)
