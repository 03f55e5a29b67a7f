// Package annotations exports stroke sets as PDF documents.
package annotations

import (
	"bytes"
	"fmt"
	"io"

	annotator "github.com/unidoc/unipdf/v3/annotator"
	"github.com/unidoc/unipdf/v3/contentstream"
	"github.com/unidoc/unipdf/v3/contentstream/draw"
	"github.com/unidoc/unipdf/v3/creator"
	pdf "github.com/unidoc/unipdf/v3/model"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
)

const (
	DeviceHeight = 1872
	DeviceWidth  = 1404
)

var rmPageSize = creator.PageSize{445, 594}

type PdfGenerator struct {
	options   PdfGeneratorOptions
	pdfReader *pdf.PdfReader
	template  bool
}

type PdfGeneratorOptions struct {
	AddPageNumbers bool
	// AllPages keeps pages without strokes.
	AllPages bool
	// Background is an optional PDF drawn under the strokes, page by page.
	Background []byte
	// AnnotationsOnly ignores Background.
	AnnotationsOnly bool
	// SurfaceWidth is the width of the drawing surface the stroke
	// coordinates refer to, DeviceWidth when zero.
	SurfaceWidth float64
}

func CreatePdfGenerator(options PdfGeneratorOptions) *PdfGenerator {
	if options.SurfaceWidth <= 0 {
		options.SurfaceWidth = DeviceWidth
	}
	return &PdfGenerator{options: options}
}

func normalized(p ink.Point, ratioX float64) (float64, float64) {
	return p.X * ratioX, p.Y * ratioX
}

func rgb(s *ink.StrokeData) (float64, float64, float64) {
	c := s.Attributes.Color
	return float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255
}

// Generate writes one PDF page per entry of pages.
func (p *PdfGenerator) Generate(w io.Writer, pages [][]*ink.StrokeData) error {
	if err := p.initBackgroundPages(p.options.Background); err != nil {
		return err
	}

	c := creator.New()
	c.SetPageSize(rmPageSize)

	ratioX := c.Width() / p.options.SurfaceWidth

	for i, strokes := range pages {
		hasContent := len(strokes) > 0

		// do not add a page when there are no strokes
		if !p.options.AllPages && !hasContent {
			continue
		}

		page, err := p.addBackgroundPage(c, i+1)
		if err != nil {
			return err
		}
		if !hasContent {
			continue
		}

		contentCreator := contentstream.NewContentCreator()
		for _, s := range strokes {
			if s == nil || len(s.Points) < 1 || s.IsErasedPart {
				continue
			}

			if s.Attributes.Highlighter {
				ann, err := highlight(s, ratioX, c.Height())
				if err != nil {
					return err
				}
				page.AddAnnotation(ann)
				continue
			}

			path := draw.NewPath()
			for _, pt := range s.Points {
				x, y := normalized(s.Attributes.Transform.Apply(pt.Point()), ratioX)
				path = path.AppendPoint(draw.NewPoint(x, c.Height()-y))
				// a dot still needs a segment to be stroked
				if len(s.Points) == 1 {
					path = path.AppendPoint(draw.NewPoint(x, c.Height()-y))
				}
			}

			contentCreator.Add_q()
			contentCreator.Add_w(s.Attributes.Width * ratioX)
			contentCreator.Add_RG(rgb(s))

			draw.DrawPathWithCreator(path, contentCreator)

			contentCreator.Add_S()
			contentCreator.Add_Q()
		}

		if err := page.AppendContentStream(string(contentCreator.Operations().Bytes())); err != nil {
			return err
		}
	}

	return c.Write(w)
}

// highlight turns a highlighter stroke into a horizontal line annotation
// from its first to its last point.
func highlight(s *ink.StrokeData, ratioX, height float64) (*pdf.PdfAnnotation, error) {
	first := s.Attributes.Transform.Apply(s.Points[0].Point())
	last := s.Attributes.Transform.Apply(s.Points[len(s.Points)-1].Point())
	x1, y1 := normalized(first, ratioX)
	x2, _ := normalized(last, ratioX)

	lineDef := annotator.LineAnnotationDef{X1: x1 - 1, Y1: height - y1, X2: x2, Y2: height - y1}
	lineDef.LineColor = pdf.NewPdfColorDeviceRGB(rgb(s))
	lineDef.Opacity = 0.5
	lineDef.LineWidth = s.Attributes.Width * ratioX
	return annotator.CreateLineAnnotation(lineDef)
}

func (p *PdfGenerator) initBackgroundPages(pdfArr []byte) error {
	if len(pdfArr) > 0 && !p.options.AnnotationsOnly {
		pdfReader, err := pdf.NewPdfReader(bytes.NewReader(pdfArr))
		if err != nil {
			return err
		}

		p.pdfReader = pdfReader
		p.template = false
		return nil
	}

	p.template = true
	return nil
}

func (p *PdfGenerator) addBackgroundPage(c *creator.Creator, pageNum int) (*pdf.PdfPage, error) {
	var page *pdf.PdfPage

	numPages := 0
	if !p.template {
		n, err := p.pdfReader.GetNumPages()
		if err != nil {
			return nil, err
		}
		numPages = n
	}

	if !p.template && pageNum <= numPages {
		page1, err := p.pdfReader.GetPage(pageNum)
		if err != nil {
			return nil, err
		}
		block, err := creator.NewBlockFromPage(page1)
		if err != nil {
			return nil, err
		}
		// scale the background onto the device page
		factor := rmPageSize[0] / block.Width()
		log.Trace.Printf("pdf: background page %d scaled by %.3f", pageNum, factor)
		block.SetPos(0.0, 0.0)
		block.Scale(factor, factor)
		page = c.NewPage()

		if err := c.Draw(block); err != nil {
			return nil, err
		}
	} else {
		page = c.NewPage()
	}

	if p.options.AddPageNumbers {
		c.DrawFooter(func(block *creator.Block, args creator.FooterFunctionArgs) {
			p := c.NewParagraph(fmt.Sprintf("%d", args.PageNum))
			p.SetFontSize(8)
			w := block.Width() - 20
			h := block.Height() - 10
			p.SetPos(w, h)
			_ = block.Draw(p)
		})
	}
	return page, nil
}
