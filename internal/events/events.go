// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package events is the in-process pub/sub used to fan configuration
// changes out to the caches. Event names are a closed set; publishers
// block until every subscriber has processed the event, so a caller
// that publishes ReloadThumbnails can assume the thumbnail cache is
// cold when Publish returns.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/tomtom215/markerforge/internal/logging"
)

// Event identifies one of the server's internal notifications.
type Event string

const (
	// EventSoftRestart rebuilds caches without touching the socket.
	EventSoftRestart Event = "server.soft_restart"

	// EventHardRestart tears the whole server down for re-init.
	EventHardRestart Event = "server.hard_restart"

	// EventAutoSuspend fires when the idle monitor closes the host
	// database connection.
	EventAutoSuspend Event = "database.auto_suspend"

	// EventAutoSuspendChanged fires when auto-suspend settings change.
	EventAutoSuspendChanged Event = "database.auto_suspend_changed"

	// EventReloadThumbnails invalidates the thumbnail cache.
	EventReloadThumbnails Event = "thumbnails.reload"

	// EventReloadMarkerStats rebuilds the marker cache breakdowns.
	EventReloadMarkerStats Event = "markers.reload_stats"

	// EventRebuildPurgedCache recomputes the purged-marker overview.
	EventRebuildPurgedCache Event = "backup.rebuild_purged"
)

// knownEvents is the closed set; Publish and Subscribe reject others.
var knownEvents = map[Event]struct{}{
	EventSoftRestart:        {},
	EventHardRestart:        {},
	EventAutoSuspend:        {},
	EventAutoSuspendChanged: {},
	EventReloadThumbnails:   {},
	EventReloadMarkerStats:  {},
	EventRebuildPurgedCache: {},
}

// Handler processes one published event. Handler errors are logged,
// not propagated; a failing subscriber must not wedge the publisher.
type Handler func(ctx context.Context) error

// Bus is the in-process event bus, built on Watermill's gochannel
// pub/sub with publish blocked until all subscribers ack.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates a Bus. Close must be called to release subscriber
// goroutines.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			// Publishers wait for every subscriber to finish.
			BlockPublishUntilSubscriberAck: true,
		}, newWatermillLogger()),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler for the given event. Each subscriber
// runs its handlers sequentially in its own goroutine; ordering among
// distinct subscribers is not guaranteed.
func (b *Bus) Subscribe(event Event, name string, handler Handler) error {
	if _, ok := knownEvents[event]; !ok {
		return fmt.Errorf("subscribe to unknown event %q", event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus closed")
	}

	messages, err := b.pubsub.Subscribe(b.ctx, string(event))
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", event, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			start := time.Now()
			if err := handler(msg.Context()); err != nil {
				logging.Error().
					Err(err).
					Str("event", string(event)).
					Str("subscriber", name).
					Msg("Event handler failed")
			} else {
				logging.Debug().
					Str("event", string(event)).
					Str("subscriber", name).
					Dur("took", time.Since(start)).
					Msg("Event handled")
			}
			// Always ack: redelivery of an in-process notification
			// would only repeat the failure.
			msg.Ack()
		}
	}()
	return nil
}

// Publish delivers the event to every subscriber and blocks until all
// of them have processed it.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if _, ok := knownEvents[event]; !ok {
		return fmt.Errorf("publish unknown event %q", event)
	}

	msg := message.NewMessage(uuid.NewString(), nil)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(string(event), msg); err != nil {
		return fmt.Errorf("publish %q: %w", event, err)
	}
	return nil
}

// Close shuts the bus down and waits for subscriber goroutines to
// drain. Publishing after Close returns an error.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.cancel()
	b.wg.Wait()
	return err
}
