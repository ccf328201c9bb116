package ui

import (
	"sync"

	"gioui.org/layout"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

// PrefsView edits the one setting that travels over IPC: the default
// behavior applications inherit when no rule names them. Everything
// else lives in the config file and takes a daemon restart.
type PrefsView struct {
	base
	client *ipc.Client

	mu      sync.Mutex
	status  *ipc.StatusResponse
	loadErr error

	appleBtn widget.Clickable
	otherBtn widget.Clickable
}

func NewPrefsView(th *theme.Theme, client *ipc.Client) *PrefsView {
	v := &PrefsView{client: client}
	v.th = th
	v.ReloadRules()
	return v
}

// ReloadRules re-reads the daemon status. A default change is the only
// rule-shaped thing this panel renders, and status carries it.
func (v *PrefsView) ReloadRules() {
	go func() {
		status, err := v.client.Status()

		v.mu.Lock()
		if err != nil {
			v.loadErr = err
		} else {
			v.loadErr = nil
			v.status = status
		}
		v.mu.Unlock()
		v.invalidate()
	}()
}

// setDefault writes the new default and waits for the broadcast to
// reload the view.
func (v *PrefsView) setDefault(b keymode.AppBehavior) {
	go func() {
		if err := v.client.SetDefaultBehavior(b); err != nil {
			v.mu.Lock()
			v.loadErr = err
			v.mu.Unlock()
			v.invalidate()
		}
	}()
}

func (v *PrefsView) Layout(gtx layout.Context) layout.Dimensions {
	fillBackground(gtx, v.th.Palette.Background)

	v.mu.Lock()
	status := v.status
	loadErr := v.loadErr
	v.mu.Unlock()

	if v.appleBtn.Clicked(gtx) {
		v.setDefault(keymode.BehaviorApple)
	}
	if v.otherBtn.Clicked(gtx) {
		v.setDefault(keymode.BehaviorOther)
	}

	def := keymode.BehaviorInherited
	if status != nil {
		def = status.DefaultBehavior
	}

	return layout.UniformInset(v.th.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H6(v.th.Theme, "Preferences")
				title.Color = v.th.Palette.Text
				return title.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if loadErr != nil {
					return errorCaption(gtx, v.th, loadErr)
				}
				return layout.Dimensions{}
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				sub := material.Caption(v.th.Theme, "Default behavior for applications without a rule")
				sub.Color = v.th.Palette.TextMuted
				return sub.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return v.layoutDefaultButtons(gtx, def)
			}),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return v.layoutStatus(gtx, status)
			}),
		)
	})
}

func (v *PrefsView) layoutDefaultButtons(gtx layout.Context, def keymode.AppBehavior) layout.Dimensions {
	button := func(click *widget.Clickable, label string, active bool) layout.FlexChild {
		return layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(v.th.Theme, click, label)
			btn.TextSize = v.th.Config.FontBody
			if active {
				btn.Background = v.th.Palette.Primary
			} else {
				btn.Background = v.th.Palette.Surface
				btn.Color = v.th.Palette.Text
			}
			return btn.Layout(gtx)
		})
	}
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		button(&v.appleBtn, "Media keys", def == keymode.BehaviorApple),
		layout.Rigid(layout.Spacer{Width: v.th.Config.Spacing}.Layout),
		button(&v.otherBtn, "Function keys", def == keymode.BehaviorOther),
	)
}

func (v *PrefsView) layoutStatus(gtx layout.Context, status *ipc.StatusResponse) layout.Dimensions {
	if status == nil {
		return layout.Dimensions{}
	}
	line := func(text string) layout.FlexChild {
		return layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(v.th.Theme, text)
			l.Color = v.th.Palette.TextMuted
			return l.Layout(gtx)
		})
	}
	probe := func(name string, ok bool, detail string) string {
		if ok {
			return name + ": available"
		}
		if detail != "" {
			return name + ": unavailable (" + detail + ")"
		}
		return name + ": unavailable"
	}
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		line("Current mode: "+status.CurrentState.String()),
		line("Mode at launch: "+status.LaunchState.String()),
		line(probe("Keyboard switcher", status.KeyboardOK, status.KeyboardDetail)),
		line(probe("Focus tracker", status.TrackerOK, status.TrackerDetail)),
	)
}
