package engine

import (
	"context"
	"log"
	"sync"
)

// PlaybackItem is one unit of agent output: either a pre-rendered audio
// reference or a text string the player must synthesize locally.
type PlaybackItem struct {
	ID         int
	Text       string
	AudioURL   string
	QuestionID *int
}

// Player delivers a single playback item to the candidate and blocks until
// the item has finished playing (or failed). A play error is treated the
// same as normal completion so a broken audio reference can never wedge
// the interview.
type Player interface {
	Play(ctx context.Context, item PlaybackItem) error
}

// PlaybackQueue plays agent output strictly in arrival order, exactly one
// item at a time, and fires onDrained exactly once each time the queue
// empties out.
//
// Some candidate environments refuse to start audio without a prior user
// gesture. Until EnableAudio is called, enqueued items are parked in a
// pending list and replayed in original order once audio is allowed.
type PlaybackQueue struct {
	mu      sync.Mutex
	ctx     context.Context
	player  Player
	logger  *log.Logger
	enabled bool
	playing bool
	items   []PlaybackItem
	pending []PlaybackItem
	nextID  int

	onDrained func()
}

// NewPlaybackQueue creates a queue. With autoplay false, items wait in the
// pending list until EnableAudio.
func NewPlaybackQueue(ctx context.Context, player Player, autoplay bool, logger *log.Logger, onDrained func()) *PlaybackQueue {
	return &PlaybackQueue{
		ctx:       ctx,
		player:    player,
		logger:    logger,
		enabled:   autoplay,
		onDrained: onDrained,
	}
}

// Enqueue appends an item and starts playback if nothing is playing.
func (q *PlaybackQueue) Enqueue(item PlaybackItem) {
	q.mu.Lock()
	q.nextID++
	item.ID = q.nextID
	if !q.enabled {
		q.pending = append(q.pending, item)
		q.mu.Unlock()
		q.logger.Printf("playback: deferring item %d until audio is enabled", item.ID)
		return
	}
	q.items = append(q.items, item)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		go q.drainLoop()
	}
}

// EnableAudio releases any deferred items in their original order. Called
// when the candidate performs an explicit audio-enable gesture.
func (q *PlaybackQueue) EnableAudio() {
	q.mu.Lock()
	if q.enabled {
		q.mu.Unlock()
		return
	}
	q.enabled = true
	q.items = append(q.items, q.pending...)
	q.pending = nil
	start := len(q.items) > 0 && !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		go q.drainLoop()
	}
}

// Idle reports whether no item is pending or in progress.
func (q *PlaybackQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.playing && len(q.items) == 0 && len(q.pending) == 0
}

// drainLoop plays queued items one at a time. When the queue empties it
// fires onDrained once and exits; a later Enqueue starts a fresh loop, so
// repeated drained signals for an already-empty queue cannot occur.
func (q *PlaybackQueue) drainLoop() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.playing = false
			drained := q.onDrained
			q.mu.Unlock()
			if drained != nil {
				drained()
			}
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.player.Play(q.ctx, item); err != nil {
			// Same as completion: advance to the next item.
			q.logger.Printf("playback: item %d failed, skipping: %v", item.ID, err)
		}
	}
}
