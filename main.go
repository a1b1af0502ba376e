package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"busrelay/relay"
	"busrelay/relay/bus"
	"busrelay/relay/bus/amqpbus"
	"busrelay/relay/bus/membus"
	"busrelay/relay/bus/sqsbus"
)

func main() {
	app, err := relay.NewApp("nodes")
	if err != nil {
		log.Fatalf("Error loading node definitions: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	registry := bus.NewRegistry()
	registry.Register("mem", membus.NewBroker())
	registry.Register("amqp", amqpbus.Dialer{})
	registry.Register("amqps", amqpbus.Dialer{})
	registry.Register("sqs", sqsbus.Dialer{})

	promReg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(promReg)

	executor := relay.NewExecutor(logger, registry, metrics)

	g := gin.Default()
	relay.NewHTTPHandler(app, executor, g)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	if err := g.Run(":8080"); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
