package shell

import (
	"errors"
	"fmt"

	"github.com/abiosoft/ishell"
	"github.com/google/uuid"
)

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid stroke id %q: %v", a, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func rmCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "rm",
		Help:      "delete strokes, usage: rm <id>...",
		Completer: createEntryCompleter(ctx),
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(errors.New("missing param"))
				return
			}
			ids, err := parseIDs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}

			cctx, cancel := ctx.context()
			defer cancel()
			for _, id := range ids {
				c.Println("deleting: ", id)
				if err := ctx.Engine.RemoveStrokeByID(cctx, id); err != nil {
					c.Err(fmt.Errorf("failed to delete stroke, %v", err))
					return
				}
			}
		},
	}
}

func clearCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "clear",
		Help: "delete every stroke",
		Func: func(c *ishell.Context) {
			cctx, cancel := ctx.context()
			defer cancel()
			if err := ctx.Engine.Clear(cctx); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}
}
