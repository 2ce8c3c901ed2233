package assignment

import (
	"github.com/smallbiznis/congregate/internal/assignment/service"
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	historydomain "github.com/smallbiznis/congregate/internal/history/domain"
	officerdomain "github.com/smallbiznis/congregate/internal/officer/domain"
	"go.uber.org/fx"
)

// Module wires the coordinator and hands the ledgers their snapshot resolvers:
// group paths for the group and leader axes, titles for the officer axis.
var Module = fx.Module("assignment.service",
	fx.Provide(
		fx.Annotate(
			func(r hierarchydomain.PathResolver) historydomain.NameResolver { return r },
			fx.ResultTags(`name:"group_names"`),
		),
		fx.Annotate(
			func(s officerdomain.Service) historydomain.NameResolver { return s },
			fx.ResultTags(`name:"officer_names"`),
		),
	),
	fx.Provide(service.New),
)
