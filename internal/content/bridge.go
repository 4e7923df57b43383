package content

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
)

// Event is a page bus event relayed out of the page realm.
type Event struct {
	Name   string `json:"name"`
	Detail any    `json:"detail"`
}

// Bridge relays every injector bus event to a channel. The page loop never
// blocks on a slow reader: when the buffer is full the event is dropped and
// counted.
type Bridge struct {
	inj    *injector.Injector
	events chan Event
	logger *zap.Logger

	unsubscribe []func()
	dropped     atomic.Int64
	closeOnce   sync.Once
}

// NewBridge subscribes to every bus event on inj's page.
func NewBridge(inj *injector.Injector, buffer int, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 64
	}
	b := &Bridge{
		inj:    inj,
		events: make(chan Event, buffer),
		logger: logger.Named("bridge"),
	}
	err := inj.Do(func(api *injector.PageAPI) {
		for _, name := range bus.Names {
			b.unsubscribe = append(b.unsubscribe, api.Bus().Subscribe(name, func(detail any) {
				b.relay(name, detail)
			}))
		}
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) relay(name string, detail any) {
	select {
	case b.events <- Event{Name: name, Detail: detail}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Bridge buffer full; dropping event", zap.String("event", name))
	}
}

// Events is closed by Close.
func (b *Bridge) Events() <-chan Event { return b.events }

// Dropped counts events lost to a full buffer.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// Close unsubscribes from the page and closes Events. Subscriptions are
// removed on the loop, so no relay can race the close.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.inj.Do(func(*injector.PageAPI) {
			for _, unsub := range b.unsubscribe {
				unsub()
			}
		})
		close(b.events)
	})
	return err
}
