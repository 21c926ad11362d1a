package runs

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler reruns the latest completed configuration on a cron schedule so
// forecasts pick up newly imported results.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

func NewScheduler(spec string, rn *Runner) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{cron: cron.New(), runner: rn}
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

func (s *Scheduler) Start() {
	log.Printf("[runs] scheduler started, next run at %s", s.cron.Entries()[0].Schedule.Next(time.Now()))
	s.cron.Start()
}

// Stop halts the schedule and waits for a job in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	req, err := s.lastRequest(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Println("[runs] scheduled run skipped: no completed run to repeat")
		return
	}
	if err != nil {
		log.Printf("[runs] scheduled run skipped: %v", err)
		return
	}
	res, err := s.runner.Execute(ctx, req)
	if err != nil {
		log.Printf("[runs] scheduled run failed: %v", err)
		return
	}
	log.Printf("[runs] scheduled run %s %s", res.RunID, res.Status)
}

// lastRequest rebuilds the request behind the newest completed run.
func (s *Scheduler) lastRequest(ctx context.Context) (Request, error) {
	run, err := s.runner.Store.Latest(ctx, 0)
	if err != nil {
		return Request{}, err
	}
	opts := s.runner.Options
	if err := json.Unmarshal([]byte(run.Parameters), &opts); err != nil {
		return Request{}, err
	}
	return Request{
		ElectionYear: run.ElectionYear,
		Position:     run.Position,
		Options:      &opts,
	}, nil
}
