package compositor

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/example/art-gallery/api-go/internal/model"
)

// Page geometry in millimetres (A4 portrait).
const (
	margin       = 20.0
	footerOffset = 15.0
	footerGap    = 10.0

	titleLineH  = 8.0
	artistLineH = 6.0
	priceLineH  = 8.0
	metaLineH   = 6.0
	sectionGap  = 2.0
	cellPad     = 1.0
	imageGap    = 6.0

	DefaultImageHeight = 100.0
)

// Section names recorded in the page layout.
const (
	SectionCoverTitle = "cover-title"
	SectionSubtitle   = "subtitle"
	SectionTimestamp  = "timestamp"
	SectionTitle      = "title"
	SectionArtist     = "artist"
	SectionImage      = "image"
	SectionPrice      = "price"
	SectionMedium     = "medium"
	SectionDimensions = "dimensions"
	SectionPeriod     = "period"
	SectionStyle      = "style"
	SectionColors     = "colors"
	SectionMood       = "mood"
)

type Options struct {
	Title       string
	Subtitle    string
	FileName    string
	PeriodMode  PeriodMode
	ImageHeight float64
	Locale      string
	Currency    string
	Now         func() time.Time
}

// Section is one rendered block; Height is how far it moved the cursor.
type Section struct {
	Name   string
	Y      float64
	Height float64
}

type PageLayout struct {
	Kind     string
	Sections []Section
}

// PDF is the fpdf-backed Compositor.
type PDF struct {
	doc    *fpdf.Fpdf
	opts   Options
	price  *PriceFormatter
	tr     func(string) string
	now    time.Time
	pageW  float64
	pageH  float64
	pages  []PageLayout
	images int
	cover  bool
	sealed bool
}

var _ Compositor = (*PDF)(nil)

func New(opts Options) (*PDF, error) {
	if opts.Title == "" {
		opts.Title = "Art Recommendations"
	}
	if opts.Subtitle == "" {
		opts.Subtitle = "Your personalised selection from the gallery"
	}
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.PeriodMode == "" {
		opts.PeriodMode = PeriodSince
	}
	if opts.ImageHeight <= 0 {
		opts.ImageHeight = DefaultImageHeight
	}
	if opts.Locale == "" {
		opts.Locale = "en-IN"
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	price, err := NewPriceFormatter(opts.Locale, opts.Currency)
	if err != nil {
		return nil, err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(false, 0)
	doc.AliasNbPages("")
	now := opts.Now()
	doc.SetCreationDate(now)
	doc.SetTitle(opts.Title, true)
	doc.SetCreator("art-gallery report export", true)

	p := &PDF{
		doc:   doc,
		opts:  opts,
		price: price,
		tr:    doc.UnicodeTranslatorFromDescriptor(""),
		now:   now,
	}
	p.pageW, p.pageH = doc.GetPageSize()
	doc.SetFooterFunc(p.footer)
	return p, nil
}

func (p *PDF) footer() {
	p.doc.SetY(-footerOffset)
	p.doc.SetFont("Helvetica", "I", 9)
	p.doc.SetTextColor(120, 120, 120)
	p.doc.CellFormat(0, footerGap, fmt.Sprintf("Page %d of {nb}", p.doc.PageNo()), "", 0, "C", false, 0, "")
}

func (p *PDF) contentWidth() float64 { return p.pageW - 2*margin }

// contentBottom is the lowest y a record section may reach without touching the footer.
func (p *PDF) contentBottom() float64 { return p.pageH - footerOffset - footerGap/2 }

func (p *PDF) check() error {
	if p.sealed {
		return ErrFinalized
	}
	if p.doc.Err() {
		return fmt.Errorf("pdf: %w", p.doc.Error())
	}
	return nil
}

func (p *PDF) AddTitlePage() error {
	if err := p.check(); err != nil {
		return err
	}
	if p.cover {
		return ErrPageOrder
	}
	p.cover = true
	p.doc.AddPage()
	page := PageLayout{Kind: "cover"}

	const (
		titleH    = 14.0
		subtitleH = 8.0
		stampH    = 6.0
		gap       = 6.0
	)
	blockH := titleH + subtitleH + gap + stampH
	y := (p.pageH - blockH) / 2
	w := p.contentWidth()

	p.doc.SetTextColor(30, 30, 30)
	p.doc.SetFont("Helvetica", "B", 28)
	p.doc.SetXY(margin, y)
	p.doc.CellFormat(w, titleH, p.tr(p.opts.Title), "", 2, "C", false, 0, "")
	page.Sections = append(page.Sections, Section{SectionCoverTitle, y, titleH})
	y += titleH

	p.doc.SetFont("Helvetica", "", 14)
	p.doc.SetTextColor(90, 90, 90)
	p.doc.CellFormat(w, subtitleH, p.tr(p.opts.Subtitle), "", 2, "C", false, 0, "")
	page.Sections = append(page.Sections, Section{SectionSubtitle, y, subtitleH + gap})
	y += subtitleH + gap

	p.doc.SetFont("Helvetica", "", 11)
	p.doc.SetXY(margin, y)
	stamp := "Generated on " + p.now.Format("January 2, 2006 at 15:04")
	p.doc.CellFormat(w, stampH, p.tr(stamp), "", 2, "C", false, 0, "")
	page.Sections = append(page.Sections, Section{SectionTimestamp, y, stampH})

	p.pages = append(p.pages, page)
	if p.doc.Err() {
		return fmt.Errorf("pdf cover: %w", p.doc.Error())
	}
	return nil
}

// pageCursor tracks the vertical position on a record page. Once a section
// would cross the footer, everything after it is clipped.
type pageCursor struct {
	p       *PDF
	y       float64
	page    *PageLayout
	clipped bool
}

func (c *pageCursor) room() float64 { return c.p.contentBottom() - c.y }

// text writes wrapped lines in the current font, advancing by the lines that fit plus gap.
func (c *pageCursor) text(name, txt string, lineH, gap float64, align string) {
	if c.clipped || strings.TrimSpace(txt) == "" {
		return
	}
	w := c.p.contentWidth()
	lines := c.p.wrap(txt, w)
	if len(lines) == 0 {
		return
	}
	fit := int(math.Floor((c.room() + 1e-9) / lineH))
	if fit <= 0 {
		c.clipped = true
		return
	}
	if fit < len(lines) {
		lines = lines[:fit]
		c.clipped = true
	}
	start := c.y
	for _, line := range lines {
		c.p.doc.SetXY(margin, c.y)
		c.p.doc.CellFormat(w, lineH, line, "", 0, align, false, 0, "")
		c.y += lineH
	}
	if !c.clipped {
		c.y += gap
	}
	c.page.Sections = append(c.page.Sections, Section{name, start, c.y - start})
}

// wrap converts txt to the core font encoding and breaks it into lines no
// wider than w in the current font. Words longer than a line are hard-broken.
func (p *PDF) wrap(txt string, w float64) []string {
	avail := w - 2*cellPad
	var lines []string
	for _, para := range strings.Split(p.tr(txt), "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for len(word) > 1 && p.doc.GetStringWidth(word) > avail {
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				n := p.fitPrefix(word, avail)
				lines = append(lines, word[:n])
				word = word[n:]
			}
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if line == "" || p.doc.GetStringWidth(candidate) <= avail {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// fitPrefix returns the longest prefix length of s (at least 1) that fits avail.
// s is single-byte encoded, so byte offsets are character offsets.
func (p *PDF) fitPrefix(s string, avail float64) int {
	n := 1
	for n < len(s) && p.doc.GetStringWidth(s[:n+1]) <= avail {
		n++
	}
	return n
}

func (c *pageCursor) labelled(name, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	c.text(name, label+": "+value, metaLineH, 0, "L")
}

func (p *PDF) AddRecordPage(rec model.Record, img *model.Image) (bool, error) {
	if err := p.check(); err != nil {
		return false, err
	}
	if !p.cover {
		return false, ErrPageOrder
	}
	p.doc.AddPage()
	p.pages = append(p.pages, PageLayout{Kind: "record"})
	c := &pageCursor{p: p, y: margin, page: &p.pages[len(p.pages)-1]}

	p.doc.SetTextColor(30, 30, 30)
	p.doc.SetFont("Helvetica", "B", 18)
	c.text(SectionTitle, rec.Title, titleLineH, sectionGap, "L")

	if rec.Artist != "" {
		p.doc.SetFont("Helvetica", "I", 12)
		p.doc.SetTextColor(100, 116, 139)
		c.text(SectionArtist, "by "+rec.Artist, artistLineH, sectionGap, "L")
	}

	embedded := false
	if img != nil && !c.clipped && c.room() >= p.opts.ImageHeight {
		embedded = p.drawImage(img, c.y)
		if embedded {
			c.page.Sections = append(c.page.Sections, Section{SectionImage, c.y, p.opts.ImageHeight + imageGap})
			c.y += p.opts.ImageHeight + imageGap
		}
	}

	p.doc.SetFont("Helvetica", "B", 14)
	p.doc.SetTextColor(5, 150, 105)
	c.text(SectionPrice, p.price.Format(rec.Price), priceLineH, 4, "L")

	p.doc.SetFont("Helvetica", "", 11)
	p.doc.SetTextColor(30, 30, 30)
	c.labelled(SectionMedium, "Medium", rec.Medium)
	c.labelled(SectionDimensions, "Dimensions", rec.Dimensions)
	if rec.Period != "" {
		c.labelled(SectionPeriod, "Period", FormatPeriod(rec.Period, p.opts.PeriodMode, p.now.Year()))
	}
	c.labelled(SectionStyle, "Style", strings.Join(rec.Style, ", "))
	c.labelled(SectionColors, "Colors", strings.Join(rec.Colors, ", "))
	c.labelled(SectionMood, "Mood", strings.Join(rec.Mood, ", "))

	if p.doc.Err() {
		return false, fmt.Errorf("pdf record page %d: %w", len(p.pages)-1, p.doc.Error())
	}
	return embedded, nil
}

// drawImage places img inside the full-width image box at y, preserving its
// aspect ratio. Images the PDF library cannot read are skipped.
func (p *PDF) drawImage(img *model.Image, y float64) bool {
	imageType := pdfImageType(img.MIMEType)
	if imageType == "" || len(img.Data) == 0 {
		return false
	}
	p.images++
	name := fmt.Sprintf("record-image-%d", p.images)
	opts := fpdf.ImageOptions{ImageType: imageType}
	info := p.doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
	if p.doc.Err() || info == nil {
		p.doc.ClearError()
		return false
	}

	boxW, boxH := p.contentWidth(), p.opts.ImageHeight
	w, h := info.Width(), info.Height()
	if w <= 0 || h <= 0 {
		return false
	}
	drawW, drawH := boxW, boxW*h/w
	if drawH > boxH {
		drawW, drawH = boxH*w/h, boxH
	}
	x := margin + (boxW-drawW)/2
	p.doc.ImageOptions(name, x, y+(boxH-drawH)/2, drawW, drawH, false, opts, 0, "")
	return true
}

func pdfImageType(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "JPG"
	case "image/png":
		return "PNG"
	case "image/gif":
		return "GIF"
	}
	return ""
}

func (p *PDF) Finalize() (*Artifact, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if !p.cover {
		return nil, ErrPageOrder
	}
	p.sealed = true
	var buf bytes.Buffer
	if err := p.doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return &Artifact{
		FileName:    p.opts.FileName,
		ContentType: "application/pdf",
		Pages:       p.doc.PageCount(),
		Data:        buf.Bytes(),
	}, nil
}

// Layout returns a copy of the per-page section accounting.
func (p *PDF) Layout() []PageLayout {
	out := make([]PageLayout, len(p.pages))
	for i, pg := range p.pages {
		out[i] = PageLayout{Kind: pg.Kind, Sections: append([]Section(nil), pg.Sections...)}
	}
	return out
}
