package ui

import (
	"image/color"

	"gioui.org/layout"
	"gioui.org/op/paint"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/keymode"
)

func fillBackground(gtx layout.Context, c color.NRGBA) {
	paint.Fill(gtx.Ops, c)
}

func emptyNote(gtx layout.Context, th *theme.Theme, text string) layout.Dimensions {
	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		l := material.Body1(th.Theme, text)
		l.Color = th.Palette.TextMuted
		return l.Layout(gtx)
	})
}

func errorCaption(gtx layout.Context, th *theme.Theme, err error) layout.Dimensions {
	l := material.Caption(th.Theme, err.Error())
	l.Color = th.Palette.Error
	return l.Layout(gtx)
}

func behaviorName(b keymode.AppBehavior) string {
	switch b {
	case keymode.BehaviorApple:
		return "media keys"
	case keymode.BehaviorOther:
		return "function keys"
	default:
		return "inherited"
	}
}

func nextBehavior(b keymode.AppBehavior) keymode.AppBehavior {
	switch b {
	case keymode.BehaviorInherited:
		return keymode.BehaviorApple
	case keymode.BehaviorApple:
		return keymode.BehaviorOther
	default:
		return keymode.BehaviorInherited
	}
}
