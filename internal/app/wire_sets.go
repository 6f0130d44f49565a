//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewConfig,
	NewLogging,
	NewLogger,
	NewLogLevel,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewObservabilityServer,
	NewConfigWatcher,
)

var ServingSet = wire.NewSet(
	NewDataset,
	NewToolRegistry,
	NewMCPServer,
	NewEventStore,
	NewSessionManager,
	NewDispatcher,
	NewHTTPServer,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	ServingSet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)
