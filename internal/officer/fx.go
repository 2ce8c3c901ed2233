package officer

import (
	"github.com/smallbiznis/congregate/internal/officer/repository"
	"github.com/smallbiznis/congregate/internal/officer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("officer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
