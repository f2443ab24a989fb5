package main

import (
	"event-coordinator/core/logger"
	"event-coordinator/core/server"
)

func main() {
	if err := server.Run(); err != nil {
		logger.Error("run server error", err)
	}
}
