// Command guardian-demo wires a minimal guardian: a key-mapping decision
// maker over a callback sensor, driving a worker-pool executor, backed by
// an in-process coordination store. It exists as example wiring, the way
// the teacher repo's examples/ directory demonstrates graph.Engine usage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ark-go/guardian/are"
	"github.com/ark-go/guardian/config"
	"github.com/ark-go/guardian/coordstore"
	"github.com/ark-go/guardian/httpstatus"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := coordstore.NewMemoryStore()
	reg, err := config.Load(ctx, "", store, "/demo-guardian")
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	basePath := reg.PersistentBasePath("demo-guardian")

	gctx := are.NewContext("demo-guardian", store, basePath)
	metrics := are.NewMetrics(prometheus.DefaultRegisterer)

	pump := are.NewPump(gctx, log, metrics)
	reporter := &demoReporter{}

	sensor := are.NewCallbackSensor(64)
	decision := are.NewKeyMappingDecisionMaker("strategy", map[string]string{
		"hello": "say_hello",
	})
	executor, err := are.NewExecutor(4, 64, sayHello, log, metrics)
	if err != nil {
		log.Fatal("executor init failed", zap.Error(err))
	}

	pump.AddListener(sensor)
	pump.AddListener(decision)
	pump.AddListener(executor)
	pump.SetExecutor(executor)

	if err := pump.Validate(); err != nil {
		log.Fatal("pump validation failed", zap.Error(err))
	}

	var ha *are.HACoordinator
	onGain := func(ctx context.Context) {
		loaded, errs := are.LoadContext(ctx, "demo-guardian", store, basePath)
		for _, e := range errs {
			log.Warn("context reload error", zap.Error(e))
		}
		loaded.SetLock(true)
		for _, m := range loaded.ReconcileOnGain() {
			pump.Enqueue(m)
		}
		pump.SetContext(loaded)
		reporter.ctx = loaded
		pump.Activate()
		go pump.Run(ctx)
	}
	onLose := func(ctx context.Context) {
		pump.Deactivate()
		pump.Stop()
	}

	ha = are.NewHACoordinator(store, basePath, "instance-1", log, metrics, onGain, onLose)
	reporter.ha = ha
	go ha.Start(ctx)

	status := httpstatus.NewServer(":8080", reporter)
	go status.Start()

	sensor.OnEvent(are.Event{OperationID: "op1", Params: map[string]any{"strategy": "hello"}})

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status.Shutdown(shutdownCtx)
	ha.Stop()
	executor.Close()
}

func sayHello(ctx context.Context, operationID string, params map[string]any) (map[string]any, error) {
	action, _ := params[are.InnerExecutorKey].(string)
	return map[string]any{"greeted": action == "say_hello", "operation_id": operationID}, nil
}

type demoReporter struct {
	ha  *are.HACoordinator
	ctx *are.Context
}

func (d *demoReporter) IsLeader() bool {
	if d.ha == nil {
		return false
	}
	return d.ha.IsLeader()
}

func (d *demoReporter) OperationCount() int {
	if d.ctx == nil {
		return 0
	}
	return len(d.ctx.Operations)
}
