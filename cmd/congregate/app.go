package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/assignment"
	"github.com/smallbiznis/congregate/internal/audit"
	"github.com/smallbiznis/congregate/internal/cache"
	"github.com/smallbiznis/congregate/internal/clock"
	"github.com/smallbiznis/congregate/internal/config"
	"github.com/smallbiznis/congregate/internal/hierarchy"
	"github.com/smallbiznis/congregate/internal/history"
	"github.com/smallbiznis/congregate/internal/member"
	"github.com/smallbiznis/congregate/internal/observability"
	"github.com/smallbiznis/congregate/internal/officer"
	"github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/telemetry"
	"go.uber.org/fx"
)

func modules() []fx.Option {
	return []fx.Option{
		// Core infrastructure
		config.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		// Domains
		audit.Module,
		member.Module,
		officer.Module,
		hierarchy.Module,
		history.Module,
		assignment.Module,
	}
}

// start builds the container, fills targets and runs the lifecycle start hooks.
// The returned stop func runs the stop hooks.
func start(ctx context.Context, targets ...any) (func(), error) {
	return startWith(ctx, fx.Options(), targets...)
}

func startWith(ctx context.Context, extra fx.Option, targets ...any) (func(), error) {
	opts := append(modules(), extra, fx.NopLogger, fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return func() { _ = app.Stop(context.Background()) }, nil
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
