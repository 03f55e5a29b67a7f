package shell

import (
	"github.com/abiosoft/ishell"
	flag "github.com/ogier/pflag"
)

func lsCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "ls",
		Help: "list strokes, usage: ls [--json]",
		Func: func(c *ishell.Context) {
			flagSet := flag.NewFlagSet("ls", flag.ContinueOnError)
			asJSON := flagSet.Bool("json", ctx.JSONOutput, "print JSON")
			if err := flagSet.Parse(c.Args); err != nil {
				if err != flag.ErrHelp {
					c.Err(err)
				}
				return
			}

			if err := displayStrokes(c, ctx.Engine.Strokes(), *asJSON); err != nil {
				c.Err(err)
			}
		},
	}
}
