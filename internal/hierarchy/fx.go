package hierarchy

import (
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/hierarchy/repository"
	"github.com/smallbiznis/congregate/internal/hierarchy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("hierarchy.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		service.NewPathResolver,
		func(r *service.PathResolver) domain.PathResolver { return r },
	),
)
