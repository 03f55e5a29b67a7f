package shell

import (
	"errors"
	"fmt"

	"github.com/abiosoft/ishell"
)

func setCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "set",
		Help: "change settings, usage: set recognition on|off | set size <w> <h> | set json on|off",
		Completer: func([]string) []string {
			return []string{"recognition", "size", "json"}
		},
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(errors.New("missing param"))
				return
			}

			switch c.Args[0] {
			case "recognition", "json":
				on, err := parseSwitch(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				if c.Args[0] == "json" {
					ctx.JSONOutput = on
				} else {
					ctx.Engine.SetRecognitionEnabled(on)
					if on && !ctx.Engine.RecognitionEnabled() {
						c.Err(errors.New("no classifier configured"))
						return
					}
				}
			case "size":
				var w, h int
				if len(c.Args) != 3 {
					c.Err(errors.New("usage: set size <w> <h>"))
					return
				}
				if _, err := fmt.Sscan(c.Args[1]+" "+c.Args[2], &w, &h); err != nil {
					c.Err(err)
					return
				}
				if err := ctx.Engine.Resize(w, h); err != nil {
					c.Err(fmt.Errorf("failed to resize: %v", err))
					return
				}
			default:
				c.Err(fmt.Errorf("unknown setting %q", c.Args[0]))
				return
			}

			c.Println("OK")
		},
	}
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}
