package ipc

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fnmoded/internal/bus"
	"fnmoded/internal/keymode"
)

func TestMessageRoundTrip(t *testing.T) {
	payload, err := Encode(&SetModeRequest{State: keymode.StateOther})
	require.NoError(t, err)

	msg := NewMessage(MsgSetMode, 7, payload)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSetMode, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.RequestID)
	assert.Equal(t, uint8(ProtocolVersion), got.Header.Version)
	assert.Equal(t, FlagJSON, got.Header.Flags)

	var req SetModeRequest
	require.NoError(t, Decode(got.Payload, &req))
	assert.Equal(t, keymode.StateOther, req.State)
}

func TestMessageRoundTripEmptyPayload(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, got.Header.Type)
	assert.Empty(t, got.Payload)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)
	msg.Header.Magic = 0xDEADBEEF

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestReadHeaderRejectsFutureVersion(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)
	msg.Header.Version = ProtocolVersion + 1

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	h := Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Flags:     FlagJSON,
		Type:      MsgImportRules,
		RequestID: 1,
		Length:    maxPayload + 1,
	}

	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")
}

func TestReadMessageTruncatedPayload(t *testing.T) {
	msg := NewMessage(MsgStatus, 3, []byte(`{"truncated`))
	msg.Header.Length = 64

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(9, ErrNotFound, "no such rule")
	assert.Equal(t, MsgError, msg.Header.Type)
	assert.Equal(t, uint32(9), msg.Header.RequestID)

	var resp ErrorResponse
	require.NoError(t, Decode(msg.Payload, &resp))
	assert.Equal(t, ErrNotFound, resp.Code)
	assert.Equal(t, "no such rule", resp.Message)
}

func TestEventDataRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventModeChanged, ModeChangedEvent{
		AppID:    "org.gnu.emacs",
		Behavior: keymode.BehaviorOther,
		State:    keymode.StateOther,
		Previous: keymode.StateApple,
	})
	require.NoError(t, err)
	assert.Equal(t, EventModeChanged, ev.Type)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Minute)

	// The daemon wraps events in MsgEvent frames; decode the same way the
	// client does.
	frame, err := NewResponse(MsgEvent, 0, ev)
	require.NoError(t, err)

	var received Event
	require.NoError(t, Decode(frame.Payload, &received))
	assert.Equal(t, EventModeChanged, received.Type)

	var data ModeChangedEvent
	require.NoError(t, received.DecodeData(&data))
	assert.Equal(t, "org.gnu.emacs", data.AppID)
	assert.Equal(t, keymode.BehaviorOther, data.Behavior)
	assert.Equal(t, keymode.StateOther, data.State)
	assert.Equal(t, keymode.StateApple, data.Previous)
}

func TestEventWithoutData(t *testing.T) {
	ev, err := NewEvent(EventDaemonShutdown, nil)
	require.NoError(t, err)
	assert.Empty(t, ev.Data)

	var data ModeChangedEvent
	assert.Error(t, ev.DecodeData(&data))
}

func TestEventFromBus(t *testing.T) {
	t.Run("mode applied", func(t *testing.T) {
		ev, err := EventFromBus(bus.ModeApplied{
			AppID:    "com.apple.dt.Xcode",
			Behavior: keymode.BehaviorApple,
			State:    keymode.StateApple,
			Previous: keymode.StateOther,
		})
		require.NoError(t, err)
		assert.Equal(t, EventModeChanged, ev.Type)

		var data ModeChangedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, "com.apple.dt.Xcode", data.AppID)
		assert.Equal(t, keymode.StateOther, data.Previous)
	})

	t.Run("focus changed", func(t *testing.T) {
		ev, err := EventFromBus(bus.FocusChanged{
			AppID:   "org.zed.dev",
			AppName: "Zed",
			AppPath: "/Applications/Zed.app",
		})
		require.NoError(t, err)
		assert.Equal(t, EventFocusChanged, ev.Type)

		var data FocusChangedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, "org.zed.dev", data.AppID)
		assert.Equal(t, "Zed", data.AppName)
	})

	t.Run("behavior changed carries origin", func(t *testing.T) {
		ev, err := EventFromBus(bus.BehaviorChanged{
			AppID:    "com.valvesoftware.steam",
			AppName:  "Steam",
			Behavior: keymode.BehaviorOther,
			Origin:   bus.OriginAppList,
		})
		require.NoError(t, err)
		assert.Equal(t, EventRuleChanged, ev.Type)

		var data RuleChangedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, "app_list", data.Origin)
		assert.Equal(t, bus.OriginAppList, bus.ParseOrigin(data.Origin))
	})

	t.Run("rule removed maps to inherited", func(t *testing.T) {
		ev, err := EventFromBus(bus.BehaviorChanged{
			AppID:    "com.valvesoftware.steam",
			Behavior: keymode.BehaviorInherited,
			Origin:   bus.OriginExternal,
		})
		require.NoError(t, err)

		var data RuleChangedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, keymode.BehaviorInherited, data.Behavior)
		assert.Equal(t, "external", data.Origin)
	})

	t.Run("default changed", func(t *testing.T) {
		ev, err := EventFromBus(bus.DefaultChanged{Behavior: keymode.BehaviorOther})
		require.NoError(t, err)
		assert.Equal(t, EventDefaultChanged, ev.Type)

		var data DefaultChangedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, keymode.BehaviorOther, data.Behavior)
	})

	t.Run("panel requested", func(t *testing.T) {
		ev, err := EventFromBus(bus.PanelRequested{Panel: "rules"})
		require.NoError(t, err)
		assert.Equal(t, EventPanelRequested, ev.Type)

		var data PanelRequestedEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, "rules", data.Panel)
	})
}
