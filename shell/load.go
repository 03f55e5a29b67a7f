package shell

import (
	"context"
	"errors"
	"fmt"

	"github.com/abiosoft/ishell"
	flag "github.com/ogier/pflag"

	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/encoding/rm"
)

// loadFile adds every stroke of a .rm page as one batch.
func loadFile(ctx context.Context, e *engine.Engine, path string) (int, error) {
	page, err := rm.ReadFile(path)
	if err != nil {
		return 0, err
	}
	strokes := rm.ToStrokes(page)
	if err := e.AddStrokes(ctx, strokes); err != nil {
		return 0, err
	}
	return len(strokes), nil
}

func loadCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "load",
		Help:      "add the strokes of .rm pages, usage: load [--clear] <file>...",
		Completer: createFsEntryCompleter(),
		Func: func(c *ishell.Context) {
			flagSet := flag.NewFlagSet("load", flag.ContinueOnError)
			clearFirst := flagSet.BoolP("clear", "c", false, "clear before loading")
			if err := flagSet.Parse(c.Args); err != nil {
				if err != flag.ErrHelp {
					c.Err(err)
				}
				return
			}
			argRest := flagSet.Args()
			if len(argRest) == 0 {
				c.Err(errors.New("missing source file"))
				return
			}

			cctx, cancel := ctx.context()
			defer cancel()

			if *clearFirst {
				if err := ctx.Engine.Clear(cctx); err != nil {
					c.Err(err)
					return
				}
			}

			for _, path := range argRest {
				n, err := loadFile(cctx, ctx.Engine, path)
				if err != nil {
					c.Err(fmt.Errorf("failed to load %s: %v", path, err))
					return
				}
				c.Printf("loaded %d strokes from %s\n", n, path)
			}
		},
	}
}

func saveCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "save",
		Help:      "write the strokes as a .rm page, usage: save <file>",
		Completer: createFsEntryCompleter(),
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errors.New("missing destination file"))
				return
			}
			if err := rm.WriteFile(c.Args[0], rm.FromStrokes(ctx.Engine.Strokes())); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}
}
