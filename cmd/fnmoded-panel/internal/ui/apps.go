package ui

import (
	"fmt"
	"sync"

	"gioui.org/layout"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/bus"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

// AppsView lists the running applications the daemon has seen, each
// with a button that cycles its behavior through inherited, media keys
// and function keys. Edits carry the app_list origin, so the daemon
// routes the resulting broadcast to the rules panel and not back here;
// the clicked row updates in place instead.
type AppsView struct {
	base
	client *ipc.Client

	mu      sync.Mutex
	apps    []ipc.AppEntry
	loadErr error
	cycles  []widget.Clickable

	list    widget.List
	refresh widget.Clickable
}

func NewAppsView(th *theme.Theme, client *ipc.Client) *AppsView {
	v := &AppsView{client: client}
	v.th = th
	v.list = widget.List{List: layout.List{Axis: layout.Vertical}}
	v.ReloadRules()
	return v
}

// ReloadRules re-queries the application list. Rule and default changes
// both land here because inherited rows show the default's effect.
func (v *AppsView) ReloadRules() {
	go func() {
		apps, err := v.client.ListApps()

		v.mu.Lock()
		if err != nil {
			v.loadErr = err
		} else {
			v.loadErr = nil
			v.apps = apps
			v.cycles = make([]widget.Clickable, len(apps))
		}
		v.mu.Unlock()
		v.invalidate()
	}()
}

// UpdateBehavior rewrites a single row without a round-trip.
func (v *AppsView) UpdateBehavior(appID string, behavior keymode.AppBehavior) {
	v.mu.Lock()
	for i := range v.apps {
		if v.apps[i].ID == appID {
			v.apps[i].Behavior = behavior
		}
	}
	v.mu.Unlock()
	v.invalidate()
}

// cycleRow advances one application's behavior. Inherited means no
// rule, so that step deletes instead of writing.
func (v *AppsView) cycleRow(entry ipc.AppEntry) {
	next := nextBehavior(entry.Behavior)
	go func() {
		var err error
		if next == keymode.BehaviorInherited {
			_, err = v.client.DeleteRule(entry.ID, bus.OriginAppList.String())
		} else {
			_, err = v.client.SetRule(&ipc.SetRuleRequest{
				AppID:    entry.ID,
				Name:     entry.Name,
				Path:     entry.Path,
				Behavior: next,
				Origin:   bus.OriginAppList.String(),
			})
		}
		if err != nil {
			v.mu.Lock()
			v.loadErr = err
			v.mu.Unlock()
			v.invalidate()
			return
		}
		// Broadcasts with our origin skip this panel, so reflect the
		// change locally.
		v.UpdateBehavior(entry.ID, next)
	}()
}

func (v *AppsView) Layout(gtx layout.Context) layout.Dimensions {
	fillBackground(gtx, v.th.Palette.Background)

	v.mu.Lock()
	apps := v.apps
	cycles := v.cycles
	loadErr := v.loadErr
	v.mu.Unlock()

	for i := range cycles {
		if cycles[i].Clicked(gtx) && i < len(apps) {
			v.cycleRow(apps[i])
		}
	}
	if v.refresh.Clicked(gtx) {
		v.ReloadRules()
	}

	return layout.UniformInset(v.th.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(v.layoutHeader),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if loadErr != nil {
					return errorCaption(gtx, v.th, loadErr)
				}
				return layout.Dimensions{}
			}),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				if len(apps) == 0 && loadErr == nil {
					return emptyNote(gtx, v.th, "No running applications seen yet.")
				}
				return v.layoutList(gtx, apps, cycles)
			}),
		)
	})
}

func (v *AppsView) layoutHeader(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					title := material.H6(v.th.Theme, "Running Applications")
					title.Color = v.th.Palette.Text
					return title.Layout(gtx)
				}),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					sub := material.Caption(v.th.Theme, "Click a behavior to cycle it")
					sub.Color = v.th.Palette.TextMuted
					return sub.Layout(gtx)
				}),
			)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(v.th.Theme, &v.refresh, "Refresh")
			btn.Background = v.th.Palette.Primary
			btn.TextSize = v.th.Config.FontCaption
			return btn.Layout(gtx)
		}),
	)
}

func (v *AppsView) layoutList(gtx layout.Context, apps []ipc.AppEntry, cycles []widget.Clickable) layout.Dimensions {
	return material.List(v.th.Theme, &v.list).Layout(gtx, len(apps), func(gtx layout.Context, i int) layout.Dimensions {
		return v.layoutRow(gtx, apps[i], &cycles[i])
	})
}

func (v *AppsView) layoutRow(gtx layout.Context, entry ipc.AppEntry, cycle *widget.Clickable) layout.Dimensions {
	return layout.Inset{Top: unit.Dp(4), Bottom: unit.Dp(4), Right: unit.Dp(8)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						name := entry.Name
						if name == "" {
							name = entry.ID
						}
						l := material.Body1(v.th.Theme, name)
						l.Color = v.th.Palette.Text
						return l.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						detail := entry.ID
						if entry.PID > 0 {
							detail = fmt.Sprintf("%s (pid %d)", entry.ID, entry.PID)
						}
						l := material.Caption(v.th.Theme, detail)
						l.Color = v.th.Palette.TextMuted
						return l.Layout(gtx)
					}),
				)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				btn := material.Button(v.th.Theme, cycle, behaviorName(entry.Behavior))
				btn.Background = v.th.Palette.Surface
				btn.Color = v.th.BehaviorColor(entry.Behavior.String())
				btn.TextSize = v.th.Config.FontCaption
				return btn.Layout(gtx)
			}),
		)
	})
}
