package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/delivery"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/rooms"
	"chat-realtime/internal/router"
	"chat-realtime/internal/store"
	"chat-realtime/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := store.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := observability.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	st := store.NewPostgresStore(database)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	reg := registry.NewRegistry()
	tracker := rooms.NewTracker()
	broadcaster := delivery.NewBroadcaster(reg)
	presenceManager := presence.NewManager(st, broadcaster, cfg.StoreTimeout)
	eventRouter := router.New(reg, tracker, presenceManager, broadcaster, st, cfg.StoreTimeout)
	broadcaster.SetDisconnectFunc(eventRouter.DisconnectDead)

	wsHandler := ws.NewHandler(verifier, reg, presenceManager, eventRouter, cfg.SendQueueSize)

	engine := gin.Default()
	engine.Use(gin.Recovery())
	engine.Use(observability.HTTPMetricsMiddleware())

	engine.GET("/ws", wsHandler.Handle)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
