package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/citadel-agent/routines/internal/config"
	"github.com/citadel-agent/routines/internal/durable"
	"github.com/citadel-agent/routines/internal/graph"
)

// routineJob fires one routine's execution on its cron schedule,
// mirroring the teacher's scheduledJob/Scheduler split
// (internal/workflow/core/engine/scheduler.go) but against the Durable
// Driver's Temporal client instead of an in-memory Engine.
type routineJob struct {
	client   *durable.Client
	routine  graph.RoutineDefinition
	schedule string
}

func (j *routineJob) Run() {
	executionID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workflowID, runID, err := j.client.StartExecution(ctx, executionID, j.routine, durable.DefaultConfig)
	if err != nil {
		log.Printf("trigger: failed to start execution for routine %q: %v", j.routine.RoutineID, err)
		return
	}
	log.Printf("trigger: started execution %s (workflow=%s run=%s) for routine %q on schedule %q",
		executionID, workflowID, runID, j.routine.RoutineID, j.schedule)
}

func main() {
	routinePath := flag.String("routine", "", "path to a JSON-encoded graph.RoutineDefinition to trigger")
	schedule := flag.String("schedule", "@every 5m", "cron schedule (robfig/cron syntax, seconds-enabled)")
	flag.Parse()

	if *routinePath == "" {
		log.Fatal("trigger: -routine is required")
	}

	routine, err := loadRoutine(*routinePath)
	if err != nil {
		log.Fatal("trigger: ", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("trigger: failed to load configuration:", err)
	}

	client, err := durable.NewClient(cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatal("trigger: ", err)
	}
	defer client.Close()

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddJob(*schedule, &routineJob{client: client, routine: routine, schedule: *schedule}); err != nil {
		log.Fatal("trigger: invalid schedule: ", err)
	}
	c.Start()
	log.Printf("trigger: routine %q scheduled %q", routine.RoutineID, *schedule)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("trigger: shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func loadRoutine(path string) (graph.RoutineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.RoutineDefinition{}, err
	}
	var routine graph.RoutineDefinition
	if err := json.Unmarshal(data, &routine); err != nil {
		return graph.RoutineDefinition{}, err
	}
	return routine, nil
}
