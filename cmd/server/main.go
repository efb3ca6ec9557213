package main

import (
	"github.com/skillgraph/backend/internal/server"
	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/logger"
	"github.com/skillgraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
