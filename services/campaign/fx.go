package campaign

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.module",
	fx.Provide(
		NewCatalog,
		NewService,
	),
)

var Server = fx.Module("campaign.server",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)

var Scheduler = fx.Module("campaign.scheduler",
	fx.Provide(NewCloser),
	fx.Invoke(StartCloser),
)
