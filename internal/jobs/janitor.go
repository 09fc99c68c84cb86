package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lfialho/parley/internal/notifications"
	"github.com/lfialho/parley/internal/store"
)

// JanitorJob sweeps the database for sessions that never finished. It
// runs on a configurable interval (default: 15 minutes) and:
// - marks live interviews with no activity past the stale window abandoned
// - fails uploads stuck in pending/processing past the stuck window
type JanitorJob struct {
	store      *store.Store
	discord    *notifications.Discord
	logger     *log.Logger
	interval   time.Duration
	staleAfter time.Duration
	stuckAfter time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewJanitorJob creates a new janitor job. The discord notifier may be
// nil when the webhook is not configured.
func NewJanitorJob(s *store.Store, discord *notifications.Discord, logger *log.Logger, interval time.Duration) *JanitorJob {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	return &JanitorJob{
		store:      s,
		discord:    discord,
		logger:     logger,
		interval:   interval,
		staleAfter: 4 * time.Hour,
		stuckAfter: 30 * time.Minute,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background job.
func (j *JanitorJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("JanitorJob: started (interval=%v)", j.interval)
}

// Stop gracefully stops the background job.
func (j *JanitorJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("JanitorJob: stopped")
}

func (j *JanitorJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.processAll()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.processAll()
		case <-j.stopCh:
			return
		}
	}
}

func (j *JanitorJob) processAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.sweepStaleInterviews(ctx)
	j.sweepStuckUploads(ctx)
}

// sweepStaleInterviews abandons interviews that went live and never
// completed. A crashed server or a candidate who walked away leaves these
// behind; the WebSocket cleanup normally handles the common case.
func (j *JanitorJob) sweepStaleInterviews(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.staleAfter)
	stale, err := j.store.ListStaleLiveInterviews(ctx, cutoff)
	if err != nil {
		j.logger.Printf("JanitorJob: failed to list stale interviews: %v", err)
		return
	}

	for _, itv := range stale {
		if err := j.store.UpdateInterviewStatus(ctx, itv.ID, store.InterviewAbandoned, time.Now().UTC()); err != nil {
			j.logger.Printf("JanitorJob: failed to abandon interview %s: %v", itv.ID, err)
			continue
		}
		j.discord.NotifyInterviewAbandoned(itv.ID, itv.RecruiterID)
		j.logger.Printf("JanitorJob: abandoned stale interview %s (live since %v)", itv.ID, itv.StartedAt)
	}
}

// sweepStuckUploads fails uploads that never reached a terminal status.
func (j *JanitorJob) sweepStuckUploads(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.stuckAfter)
	stuck, err := j.store.ListStuckUploads(ctx, cutoff)
	if err != nil {
		j.logger.Printf("JanitorJob: failed to list stuck uploads: %v", err)
		return
	}

	for _, u := range stuck {
		if err := j.store.SetUploadResult(ctx, u.ID, store.UploadFailed, nil); err != nil {
			j.logger.Printf("JanitorJob: failed to fail upload %s: %v", u.ID, err)
			continue
		}
		j.logger.Printf("JanitorJob: failed stuck upload %s (status was %s)", u.ID, u.Status)
	}
}
