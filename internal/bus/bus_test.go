package bus

import (
	"testing"
	"time"

	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	logger, err := logging.New(&logging.Config{
		Level:     logging.LevelError,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	b := New(logger)
	t.Cleanup(b.Close)
	return b
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(FocusChanged{AppID: "org.mozilla.firefox", AppName: "Firefox"})

	ev := recvEvent(t, ch)
	fc, ok := ev.(FocusChanged)
	if !ok {
		t.Fatalf("expected FocusChanged, got %T", ev)
	}
	if fc.AppID != "org.mozilla.firefox" {
		t.Errorf("expected app id org.mozilla.firefox, got %q", fc.AppID)
	}
}

func TestSubscribeFiltersByKind(t *testing.T) {
	b := newTestBus(t)
	ch, cancel := b.Subscribe(KindModeApplied)
	defer cancel()

	b.Publish(FocusChanged{AppID: "com.apple.Terminal"})
	b.Publish(ModeApplied{
		AppID:    "com.apple.Terminal",
		Behavior: keymode.BehaviorOther,
		State:    keymode.StateOther,
		Previous: keymode.StateApple,
	})

	ev := recvEvent(t, ch)
	if ev.Kind() != KindModeApplied {
		t.Fatalf("expected mode_applied, got %s", ev.Kind())
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %s", extra.Kind())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsInvalidEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"focus without app id", FocusChanged{AppName: "Ghost"}},
		{"behavior without app id", BehaviorChanged{Behavior: keymode.BehaviorApple}},
		{"behavior out of range", BehaviorChanged{AppID: "x", Behavior: keymode.AppBehavior(42)}},
		{"default out of range", DefaultChanged{Behavior: keymode.AppBehavior(-1)}},
		{"mode with invalid state", ModeApplied{State: keymode.KeyboardState(9)}},
		{"panel without kind", PanelRequested{}},
	}

	b := newTestBus(t)
	ch, cancel := b.Subscribe()
	defer cancel()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ev.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
			b.Publish(tt.ev)
			select {
			case got := <-ch:
				t.Fatalf("invalid event was delivered: %s", got.Kind())
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ch, cancel := b.Subscribe()

	cancel()
	cancel() // second call must be harmless

	b.Publish(DefaultChanged{Behavior: keymode.BehaviorApple})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := newTestBus(t)
	_, cancel := b.Subscribe()
	defer cancel()

	// Nobody reads: overflow the buffer and then some.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(FocusChanged{AppID: "com.example.flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
	if b.Dropped() == 0 {
		t.Error("expected dropped counter to increase")
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	b := newTestBus(t)
	ch1, cancel1 := b.Subscribe(KindBehaviorChanged)
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(BehaviorChanged{
		AppID:    "com.apple.dt.Xcode",
		Behavior: keymode.BehaviorOther,
		Origin:   OriginAppList,
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		ev := recvEvent(t, ch)
		bc, ok := ev.(BehaviorChanged)
		if !ok {
			t.Fatalf("subscriber %d: expected BehaviorChanged, got %T", i, ev)
		}
		if bc.Origin != OriginAppList {
			t.Errorf("subscriber %d: expected origin app_list, got %s", i, bc.Origin)
		}
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := newTestBus(t)
	b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel from closed bus")
	}

	// Publishing after close must be a no-op.
	b.Publish(DefaultChanged{Behavior: keymode.BehaviorApple})
}

func TestKindAndOriginStrings(t *testing.T) {
	if got := KindModeApplied.String(); got != "mode_applied" {
		t.Errorf("expected mode_applied, got %q", got)
	}
	if got := OriginCurrentApp.String(); got != "current_app" {
		t.Errorf("expected current_app, got %q", got)
	}
	if got := Origin(99).String(); got != "external" {
		t.Errorf("expected external fallback, got %q", got)
	}
}
