// Package shell is an interactive front end over an Engine.
package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/juruen/inkcore/engine"
)

const defaultTimeout = 30 * time.Second

type ShellCtxt struct {
	Engine     *engine.Engine
	JSONOutput bool
	timeout    time.Duration
}

// context bounds one command.
func (ctx *ShellCtxt) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ctx.timeout)
}

func setCustomCompleter(shell *ishell.Shell) {
	cmdCompleter := make(cmdToCompleter)
	for _, cmd := range shell.Cmds() {
		cmdCompleter[cmd.Name] = cmd.Completer
	}

	completer := shellPathCompleter{cmdCompleter}
	shell.CustomCompleter(completer)
}

// RunShell runs args as a single command, or an interactive session when
// args is empty.
func RunShell(e *engine.Engine, args []string) error {
	shell := ishell.New()
	ctx := &ShellCtxt{Engine: e, timeout: defaultTimeout}

	shell.SetPrompt("[inkcore]>")

	shell.AddCmd(lsCmd(ctx))
	shell.AddCmd(rmCmd(ctx))
	shell.AddCmd(clearCmd(ctx))
	shell.AddCmd(loadCmd(ctx))
	shell.AddCmd(saveCmd(ctx))
	shell.AddCmd(renderCmd(ctx))
	shell.AddCmd(pdfCmd(ctx))
	shell.AddCmd(recognizeCmd(ctx))
	shell.AddCmd(hitCmd(ctx))
	shell.AddCmd(statsCmd(ctx))
	shell.AddCmd(setCmd(ctx))

	setCustomCompleter(shell)

	if len(args) > 0 {
		return shell.Process(args...)
	}

	shell.Printf("inkcore, %d strokes loaded\n", e.Count())
	shell.Run()
	return nil
}

type cmdToCompleter map[string]func([]string) []string

type shellPathCompleter struct {
	cmdCompleter cmdToCompleter
}

func (ic shellPathCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	words := strings.Fields(string(line[:pos]))
	if len(words) == 0 {
		return nil, 0
	}

	prefix := ""
	if !strings.HasSuffix(string(line[:pos]), " ") {
		prefix = words[len(words)-1]
		words = words[:len(words)-1]
	}

	var candidates []string
	if len(words) == 0 {
		for name := range ic.cmdCompleter {
			candidates = append(candidates, name)
		}
	} else if completer, ok := ic.cmdCompleter[words[0]]; ok && completer != nil {
		candidates = completer(words[1:])
	}

	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			newLine = append(newLine, []rune(c[len(prefix):]))
		}
	}
	return newLine, len(prefix)
}

// createEntryCompleter completes stroke ids.
func createEntryCompleter(ctx *ShellCtxt) func([]string) []string {
	return func(args []string) []string {
		strokes := ctx.Engine.Strokes()
		ids := make([]string, len(strokes))
		for i, s := range strokes {
			ids[i] = s.ID.String()
		}
		return ids
	}
}

// createFsEntryCompleter completes local file names.
func createFsEntryCompleter() func([]string) []string {
	return func(args []string) []string {
		dir := "."
		if len(args) > 0 {
			dir = filepath.Dir(args[len(args)-1])
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		var names []string
		for _, e := range entries {
			name := e.Name()
			if dir != "." {
				name = filepath.Join(dir, name)
			}
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return names
	}
}
