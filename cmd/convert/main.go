package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juruen/inkcore/annotations"
	"github.com/juruen/inkcore/encoding/rm"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/ink"
)

func main() {
	inputName := flag.String("i", "", "file to convert, more pages may follow as arguments")
	outputName := flag.String("o", "", "output filename")
	extract := flag.String("e", "", "extract, p - pdf, i - png image, a - stroke listing, r - rm v5 page")
	width := flag.Int("w", annotations.DeviceWidth, "surface width")
	height := flag.Int("h", annotations.DeviceHeight, "surface height")
	flag.Parse()

	inputs := flag.Args()
	if *inputName != "" {
		inputs = append([]string{*inputName}, inputs...)
	}

	var err error
	switch *extract {
	case "a":
		err = txtstrokes(inputs, *outputName)
	case "r":
		err = reencode(inputs, *outputName)
	case "i":
		err = pngs(inputs, *outputName, *width, *height)
	case "":
		fallthrough
	case "p":
		err = convert(inputs, *outputName, *width)
	default:
		err = fmt.Errorf("unknown extract mode %q", *extract)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func outputFor(inputs []string, outputName, ext string) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("missing input file")
	}
	if outputName != "" {
		return outputName, nil
	}
	nameOnly := strings.TrimSuffix(inputs[0], filepath.Ext(inputs[0]))
	return nameOnly + ext, nil
}

func readPages(inputs []string) ([][]*ink.StrokeData, error) {
	pages := make([][]*ink.StrokeData, 0, len(inputs))
	for _, in := range inputs {
		page, err := rm.ReadFile(in)
		if err != nil {
			return nil, err
		}
		pages = append(pages, rm.ToStrokes(page))
	}
	return pages, nil
}

// sortStrokes orders strokes in reading order, top to bottom then left to
// right for strokes starting on the same line.
func sortStrokes(strokes []*ink.StrokeData) {
	sort.SliceStable(strokes, func(i, j int) bool {
		b1 := strokes[i].Bounds()
		b2 := strokes[j].Bounds()
		if math.Abs(b1.Y-b2.Y) < 5 {
			return b1.X < b2.X
		}
		return b1.Y < b2.Y
	})
}

func txtstrokes(inputs []string, outputName string) error {
	outputName, err := outputFor(inputs, outputName, ".txt")
	if err != nil {
		return err
	}
	pages, err := readPages(inputs)
	if err != nil {
		return err
	}

	f, err := os.Create(outputName)
	if err != nil {
		return err
	}
	defer f.Close()

	for index, strokes := range pages {
		if len(strokes) == 0 {
			continue
		}
		fmt.Fprintf(f, "Page %d\n", index)
		sortStrokes(strokes)
		for _, s := range strokes {
			b := s.Bounds()
			kind := "pen"
			if s.Attributes.Highlighter {
				kind = "highlighter"
			}
			fmt.Fprintf(f, " X:%d Y:%d\t %dx%d\t %s, %d points\n", int(b.X), int(b.Y), int(b.Width), int(b.Height), kind, len(s.Points))
		}
	}

	return f.Close()
}

// pngs renders every page through an engine, one PNG per page.
func pngs(inputs []string, outputName string, width, height int) error {
	outputName, err := outputFor(inputs, outputName, ".png")
	if err != nil {
		return err
	}
	pages, err := readPages(inputs)
	if err != nil {
		return err
	}

	opts := engine.DefaultOptions()
	opts.Width, opts.Height = width, height
	opts.RecognitionEnabled = false
	e, err := engine.New(opts)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer e.Close(ctx)

	for i, strokes := range pages {
		if err := e.Clear(ctx); err != nil {
			return err
		}
		if err := e.AddStrokes(ctx, strokes); err != nil {
			return err
		}
		if err := e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect); err != nil {
			return err
		}

		name := outputName
		if len(pages) > 1 {
			name = fmt.Sprintf("%s_page_%d.png", strings.TrimSuffix(outputName, filepath.Ext(outputName)), i)
		}
		if err := writePNG(name, e); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(name string, e *engine.Engine) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("can't create outputfile %w", err)
	}
	if err := png.Encode(f, e.Snapshot()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func convert(inputs []string, outputName string, width int) (err error) {
	outputName, err = outputFor(inputs, outputName, ".pdf")
	if err != nil {
		return err
	}
	pages, err := readPages(inputs)
	if err != nil {
		return err
	}

	outputFile, err := os.Create(outputName)
	if err != nil {
		return fmt.Errorf("can't create outputfile %w", err)
	}
	defer outputFile.Close()

	options := annotations.PdfGeneratorOptions{
		AllPages:     true,
		SurfaceWidth: float64(width),
	}
	gen := annotations.CreatePdfGenerator(options)
	if err := gen.Generate(outputFile, pages); err != nil {
		return err
	}
	return outputFile.Close()
}

// reencode writes the strokes of the pages back as a single v5 page.
func reencode(inputs []string, outputName string) error {
	if outputName == "" {
		return errors.New("missing output file")
	}
	pages, err := readPages(inputs)
	if err != nil {
		return err
	}
	var strokes []*ink.StrokeData
	for _, p := range pages {
		strokes = append(strokes, p...)
	}
	return rm.WriteFile(outputName, rm.FromStrokes(strokes))
}
