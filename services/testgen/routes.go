// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testgen

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all engine routes with the router group.
//
// Description:
//
//	Registers the /v1/testgen/* endpoints. The group should already carry
//	any required middleware.
//
// Endpoints:
//
//	POST   /v1/testgen/generate - Generate (or regenerate) a test
//	POST   /v1/testgen/run - Run a function's test, generating if needed
//	POST   /v1/testgen/parse - Parse a Python file's function inventory
//	GET    /v1/testgen/status - Binding and operation state for a function
//	GET    /v1/testgen/bindings - All registered bindings
//	DELETE /v1/testgen/binding - Remove a function's binding
//	GET    /v1/testgen/queue - Active and queued requests
//	DELETE /v1/testgen/queue/:id - Cancel a queued request
//	GET    /v1/testgen/events - Websocket stream of state transitions
//	GET    /v1/testgen/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	tg := rg.Group("/testgen")
	{
		tg.POST("/generate", handlers.HandleGenerate)
		tg.POST("/run", handlers.HandleRun)
		tg.POST("/parse", handlers.HandleParse)

		tg.GET("/status", handlers.HandleStatus)
		tg.GET("/bindings", handlers.HandleBindings)
		tg.DELETE("/binding", handlers.HandleDeleteBinding)

		tg.GET("/queue", handlers.HandleQueue)
		tg.DELETE("/queue/:id", handlers.HandleCancel)

		tg.GET("/events", handlers.HandleEvents)
		tg.GET("/health", handlers.HandleHealth)
	}
}
