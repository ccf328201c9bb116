package ui

import (
	"fmt"
	"sync"
	"time"

	"gioui.org/layout"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/ipc"
)

// AboutView is a static card with the versions on both ends of the
// socket. It loads once; nothing here changes while the window is up.
type AboutView struct {
	base
	client  *ipc.Client
	version string

	mu     sync.Mutex
	status *ipc.StatusResponse
}

func NewAboutView(th *theme.Theme, client *ipc.Client, version string) *AboutView {
	v := &AboutView{client: client, version: version}
	v.th = th
	go func() {
		status, err := client.Status()
		if err != nil {
			return
		}
		v.mu.Lock()
		v.status = status
		v.mu.Unlock()
		v.invalidate()
	}()
	return v
}

func (v *AboutView) Layout(gtx layout.Context) layout.Dimensions {
	fillBackground(gtx, v.th.Palette.Background)

	v.mu.Lock()
	status := v.status
	v.mu.Unlock()

	daemon := v.client.ServerVersion()
	if daemon == "" {
		daemon = "unknown"
	}

	lines := []string{
		"Panel host " + v.version,
		"Daemon " + daemon,
	}
	if status != nil {
		lines = append(lines,
			fmt.Sprintf("Uptime %s", status.Uptime.Round(time.Second)),
			fmt.Sprintf("%d rules stored", status.RuleCount),
		)
	}

	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		children := []layout.FlexChild{
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H5(v.th.Theme, "fnmoded")
				title.Color = v.th.Palette.Text
				return title.Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				sub := material.Body2(v.th.Theme, "Per-application keyboard fn modes")
				sub.Color = v.th.Palette.TextMuted
				return sub.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
		}
		for _, text := range lines {
			text := text
			children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(v.th.Theme, text)
				l.Color = v.th.Palette.TextMuted
				return l.Layout(gtx)
			}))
		}
		return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx, children...)
	})
}
