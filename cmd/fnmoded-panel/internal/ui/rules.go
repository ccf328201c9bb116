package ui

import (
	"sync"

	"gioui.org/layout"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

// RulesView lists the stored rules with the inherited default on top.
// Rows can only be removed here; assigning behaviors happens in the
// running-apps panel, where the candidate applications are visible.
type RulesView struct {
	base
	client *ipc.Client

	mu      sync.Mutex
	rules   []ipc.RuleInfo
	def     keymode.AppBehavior
	loadErr error
	removes []widget.Clickable

	list    widget.List
	refresh widget.Clickable
}

func NewRulesView(th *theme.Theme, client *ipc.Client) *RulesView {
	v := &RulesView{client: client}
	v.th = th
	v.list = widget.List{List: layout.List{Axis: layout.Vertical}}
	v.ReloadRules()
	return v
}

// ReloadRules re-queries the rule list off the frame loop and wakes the
// window once the fresh data is in place.
func (v *RulesView) ReloadRules() {
	go func() {
		resp, err := v.client.ListRules()

		v.mu.Lock()
		if err != nil {
			v.loadErr = err
		} else {
			v.loadErr = nil
			v.rules = resp.Rules
			v.def = resp.Default
			v.removes = make([]widget.Clickable, len(resp.Rules))
		}
		v.mu.Unlock()
		v.invalidate()
	}()
}

// removeRule deletes a rule without touching local state. The daemon
// broadcasts the change back, and that broadcast reloads the view.
func (v *RulesView) removeRule(appID string) {
	go func() {
		if _, err := v.client.DeleteRule(appID, ""); err != nil {
			v.mu.Lock()
			v.loadErr = err
			v.mu.Unlock()
			v.invalidate()
		}
	}()
}

func (v *RulesView) Layout(gtx layout.Context) layout.Dimensions {
	fillBackground(gtx, v.th.Palette.Background)

	v.mu.Lock()
	rules := v.rules
	removes := v.removes
	def := v.def
	loadErr := v.loadErr
	v.mu.Unlock()

	for i := range removes {
		if removes[i].Clicked(gtx) && i < len(rules) {
			v.removeRule(rules[i].AppID)
		}
	}
	if v.refresh.Clicked(gtx) {
		v.ReloadRules()
	}

	return layout.UniformInset(v.th.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return v.layoutHeader(gtx, def)
			}),
			layout.Rigid(layout.Spacer{Height: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if loadErr != nil {
					return errorCaption(gtx, v.th, loadErr)
				}
				return layout.Dimensions{}
			}),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				if len(rules) == 0 && loadErr == nil {
					return emptyNote(gtx, v.th, "No rules. Every application inherits the default.")
				}
				return v.layoutList(gtx, rules, removes)
			}),
		)
	})
}

func (v *RulesView) layoutHeader(gtx layout.Context, def keymode.AppBehavior) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					title := material.H6(v.th.Theme, "Keyboard Rules")
					title.Color = v.th.Palette.Text
					return title.Layout(gtx)
				}),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					sub := material.Caption(v.th.Theme, "Default: "+behaviorName(def))
					sub.Color = v.th.BehaviorColor(def.String())
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

func (v *RulesView) layoutList(gtx layout.Context, rules []ipc.RuleInfo, removes []widget.Clickable) layout.Dimensions {
	return material.List(v.th.Theme, &v.list).Layout(gtx, len(rules), func(gtx layout.Context, i int) layout.Dimensions {
		return v.layoutRow(gtx, rules[i], &removes[i])
	})
}

func (v *RulesView) layoutRow(gtx layout.Context, rule ipc.RuleInfo, remove *widget.Clickable) layout.Dimensions {
	return layout.Inset{Top: unit.Dp(4), Bottom: unit.Dp(4), Right: unit.Dp(8)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						name := rule.Name
						if name == "" {
							name = rule.AppID
						}
						l := material.Body1(v.th.Theme, name)
						l.Color = v.th.Palette.Text
						return l.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						l := material.Caption(v.th.Theme, rule.AppID)
						l.Color = v.th.Palette.TextMuted
						return l.Layout(gtx)
					}),
				)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Body2(v.th.Theme, behaviorName(rule.Behavior))
				l.Color = v.th.BehaviorColor(rule.Behavior.String())
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: v.th.Config.Spacing}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				btn := material.Button(v.th.Theme, remove, "Remove")
				btn.Background = v.th.Palette.Surface
				btn.Color = v.th.Palette.Error
				btn.TextSize = v.th.Config.FontCaption
				return btn.Layout(gtx)
			}),
		)
	})
}
