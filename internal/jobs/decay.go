// Package jobs hosts scheduled maintenance: importance decay over the memory
// stream under the "updated" importance policy.
package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/aminsmd/ai-chat-app/internal/memory"
)

// Decay periodically multiplies every record's importance by a factor,
// flooring at a minimum so old records fade without vanishing from ranking
// entirely.
type Decay struct {
	cron   *cron.Cron
	store  memory.Store
	factor float64
	floor  float64
}

// NewDecay schedules decay with a cron expression (e.g. "@hourly").
func NewDecay(store memory.Store, schedule string, factor, floor float64) (*Decay, error) {
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("decay factor must be in (0,1), got %v", factor)
	}
	d := &Decay{
		cron:   cron.New(),
		store:  store,
		factor: factor,
		floor:  floor,
	}
	if _, err := d.cron.AddFunc(schedule, d.Run); err != nil {
		return nil, fmt.Errorf("invalid decay schedule %q: %w", schedule, err)
	}
	return d, nil
}

// Start begins the schedule.
func (d *Decay) Start() { d.cron.Start() }

// Stop halts the schedule and waits for a running pass to finish.
func (d *Decay) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Run executes one decay pass over every channel. Exported so operators can
// trigger it out of schedule.
func (d *Decay) Run() {
	ctx := context.Background()
	for _, channel := range d.store.Channels() {
		decayed, err := d.decayChannel(ctx, channel)
		if err != nil {
			log.Printf("[DECAY] Channel %s pass failed: %v", channel, err)
			continue
		}
		if decayed > 0 {
			log.Printf("[DECAY] Decayed %d records in channel=%s", decayed, channel)
		}
	}
}

func (d *Decay) decayChannel(ctx context.Context, channel string) (int, error) {
	recs, err := d.store.Recent(ctx, channel, 0)
	if err != nil {
		return 0, err
	}
	decayed := 0
	for _, rec := range recs {
		if rec.Importance() <= d.floor {
			continue
		}
		next := rec.Importance() * d.factor
		if next < d.floor {
			next = d.floor
		}
		if err := d.store.SetImportance(ctx, channel, rec.ID(), next); err != nil {
			log.Printf("[DECAY] Failed to decay record %s: %v", rec.ID(), err)
			continue
		}
		decayed++
	}
	return decayed, nil
}
