package recorder

import (
	"log"

	"RaffleKeeper/internal/model"
)

// Recorder persists the raffle event history for later inspection.
type Recorder interface {
	RecordEvent(ev *model.Event) error
	// RecentEvents returns up to limit events, newest first. An empty kind
	// matches every event.
	RecentEvents(kind model.EventKind, limit int) ([]*model.Event, error)
	Close() error
}

// Sink adapts a Recorder to the raffle event sink, logging failures instead
// of returning them.
type Sink struct {
	Recorder Recorder
}

func (s Sink) Publish(ev *model.Event) {
	if err := s.Recorder.RecordEvent(ev); err != nil {
		log.Printf("[ERROR] record %s event: %v", ev.Kind, err)
	}
}
