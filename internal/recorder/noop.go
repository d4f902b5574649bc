package recorder

import "RaffleKeeper/internal/model"

// NoopRecorder is a no-op implementation used when history is not kept.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(_ *model.Event) error { return nil }
func (n *NoopRecorder) RecentEvents(_ model.EventKind, _ int) ([]*model.Event, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
