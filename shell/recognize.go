package shell

import (
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/juruen/inkcore/ink"
)

func recognizeCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "recognize",
		Help:      "classify strokes as one shape, usage: recognize [id...] (all strokes by default)",
		Completer: createEntryCompleter(ctx),
		Func: func(c *ishell.Context) {
			strokes := ctx.Engine.Strokes()
			if len(c.Args) > 0 {
				ids, err := parseIDs(c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				strokes = strokes[:0:0]
				for _, id := range ids {
					s, ok := ctx.Engine.Stroke(id)
					if !ok {
						c.Err(fmt.Errorf("stroke %s doesn't exist", id))
						return
					}
					strokes = append(strokes, s)
				}
			}

			cctx, cancel := ctx.context()
			defer cancel()
			res, err := ctx.Engine.Recognize(cctx, strokes)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(res.String())
		},
	}
}

func hitCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "hit",
		Help: "strokes under a point or rectangle, usage: hit <x> <y> [tolerance] | hit <x> <y> <w> <h> --rect",
		Func: func(c *ishell.Context) {
			var hits []*ink.StrokeData
			switch {
			case len(c.Args) == 5 && c.Args[4] == "--rect":
				var r ink.Rect
				if _, err := fmt.Sscan(c.Args[0]+" "+c.Args[1]+" "+c.Args[2]+" "+c.Args[3], &r.X, &r.Y, &r.Width, &r.Height); err != nil {
					c.Err(err)
					return
				}
				hits = ctx.Engine.HitTestRect(r)
			case len(c.Args) == 2 || len(c.Args) == 3:
				var p ink.Point
				tolerance := 2.0
				if _, err := fmt.Sscan(c.Args[0]+" "+c.Args[1], &p.X, &p.Y); err != nil {
					c.Err(err)
					return
				}
				if len(c.Args) == 3 {
					if _, err := fmt.Sscan(c.Args[2], &tolerance); err != nil {
						c.Err(err)
						return
					}
				}
				hits = ctx.Engine.HitTest(p, tolerance)
			default:
				c.Err(fmt.Errorf("usage: hit <x> <y> [tolerance]"))
				return
			}

			if err := displayStrokes(c, hits, ctx.JSONOutput); err != nil {
				c.Err(err)
			}
		},
	}
}
