package shell

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/abiosoft/ishell"
	flag "github.com/ogier/pflag"

	"github.com/juruen/inkcore/annotations"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/ink"
)

// renderPNG renders a frame and writes the front buffer, or a thumbnail of
// it when thumb is not zero.
func renderPNG(ctx context.Context, e *engine.Engine, path string, incremental bool, thumb uint) error {
	var err error
	if incremental {
		err = e.RenderIncremental(ctx, nil, image.Rectangle{}, ink.EmptyRect)
	} else {
		err = e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect)
	}
	if err != nil {
		return err
	}

	var img image.Image = e.Snapshot()
	if thumb > 0 {
		img = e.Thumbnail(thumb, thumb)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "render",
		Help:      "render to PNG, usage: render [--incremental] [--thumb N] <file.png>",
		Completer: createFsEntryCompleter(),
		Func: func(c *ishell.Context) {
			flagSet := flag.NewFlagSet("render", flag.ContinueOnError)
			incremental := flagSet.BoolP("incremental", "i", false, "only draw strokes added since the last render")
			thumb := flagSet.UintP("thumb", "t", 0, "write a thumbnail fitting NxN")
			if err := flagSet.Parse(c.Args); err != nil {
				if err != flag.ErrHelp {
					c.Err(err)
				}
				return
			}
			argRest := flagSet.Args()
			if len(argRest) != 1 {
				c.Err(errors.New("missing destination file"))
				return
			}

			cctx, cancel := ctx.context()
			defer cancel()
			if err := renderPNG(cctx, ctx.Engine, argRest[0], *incremental, *thumb); err != nil {
				c.Err(fmt.Errorf("failed to render: %v", err))
				return
			}
			c.Println("OK")
		},
	}
}

func pdfCmd(ctx *ShellCtxt) *ishell.Cmd {
	return &ishell.Cmd{
		Name:      "pdf",
		Help:      "export to PDF, usage: pdf [--background file.pdf] [--page-numbers] <file.pdf>",
		Completer: createFsEntryCompleter(),
		Func: func(c *ishell.Context) {
			flagSet := flag.NewFlagSet("pdf", flag.ContinueOnError)
			background := flagSet.StringP("background", "b", "", "PDF drawn under the strokes")
			pageNumbers := flagSet.BoolP("page-numbers", "n", false, "add page numbers")
			if err := flagSet.Parse(c.Args); err != nil {
				if err != flag.ErrHelp {
					c.Err(err)
				}
				return
			}
			argRest := flagSet.Args()
			if len(argRest) != 1 {
				c.Err(errors.New("missing destination file"))
				return
			}

			opts := annotations.PdfGeneratorOptions{AddPageNumbers: *pageNumbers, AllPages: true}
			if *background != "" {
				data, err := os.ReadFile(*background)
				if err != nil {
					c.Err(err)
					return
				}
				opts.Background = data
			}
			width, _ := ctx.Engine.Size()
			opts.SurfaceWidth = float64(width)

			f, err := os.Create(argRest[0])
			if err != nil {
				c.Err(err)
				return
			}
			defer f.Close()

			g := annotations.CreatePdfGenerator(opts)
			if err := g.Generate(f, [][]*ink.StrokeData{ctx.Engine.Strokes()}); err != nil {
				c.Err(fmt.Errorf("failed to export: %v", err))
				return
			}
			c.Println("OK")
		},
	}
}
