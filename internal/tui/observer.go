package tui

import "github.com/estrateji/satchel/internal/domain"

// ChannelObserver adapts domain.SyncObserver to a channel for Bubble Tea.
type ChannelObserver struct {
	ch chan<- domain.SyncProgress
}

func NewChannelObserver(ch chan<- domain.SyncProgress) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnProgress sends progress to the channel, dropping it if the channel is full.
// The final update is always delivered.
func (o *ChannelObserver) OnProgress(progress domain.SyncProgress) {
	if progress.Done {
		o.ch <- progress
		return
	}
	select {
	case o.ch <- progress:
	default:
	}
}
