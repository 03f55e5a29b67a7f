package shell

import (
	"github.com/abiosoft/ishell"
)

func statsCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "stats",
		Help: "show operation timings and cache sizes",
		Func: func(c *ishell.Context) {
			e := ctx.Engine
			c.Print(e.Monitor().Report())

			rc := e.RenderCacheStats()
			c.Printf("strokes: %d\n", e.Count())
			c.Printf("render cache: brushes=%d pens=%d geometry=%d\n", rc.Brushes.Len, rc.Pens.Len, rc.Geometry.Len)
			c.Printf("recognition cache: %d (enabled=%v)\n", e.RecognitionCacheLen(), e.RecognitionEnabled())
		},
	}
}
