// Package report renders the health PDF summarizing recent errors.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/patrickmn/go-cache"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
)

// RecentRows is the number of error rows listed in the report.
const RecentRows = 10

const healthKey = "health.pdf"

// Source provides the report data. repository.ErrorRepository satisfies it.
type Source interface {
	CountBySeverity(ctx context.Context) (map[string]int64, error)
	ListRecent(ctx context.Context, limit int) ([]entities.ErrorRecord, error)
}

// Data is everything drawn on the report.
type Data struct {
	GeneratedAt time.Time
	Counts      map[string]int64
	Recent      []entities.ErrorRecord
}

// Total returns the number of stored errors across all severities.
func (d Data) Total() int64 {
	var n int64
	for _, c := range d.Counts {
		n += c
	}
	return n
}

// Generator builds and caches the health report.
type Generator struct {
	src   Source
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger

	// gen counts invalidations. A report is cached only if no
	// invalidation happened while it was being built.
	mu  sync.Mutex
	gen uint64
}

// NewGenerator creates a Generator. A ttl of zero disables caching.
func NewGenerator(src Source, ttl time.Duration, log logger.Logger) *Generator {
	// One entry only; expired entries are ignored by Get, so no janitor
	// goroutine is started.
	return &Generator{
		src:   src,
		cache: cache.New(ttl, 0),
		ttl:   ttl,
		now:   time.Now,
		log:   log,
	}
}

// HealthPDF returns the rendered report, from cache when fresh.
func (g *Generator) HealthPDF(ctx context.Context) ([]byte, error) {
	if g.ttl > 0 {
		if cached, ok := g.cache.Get(healthKey); ok {
			return cached.([]byte), nil
		}
	}

	g.mu.Lock()
	gen := g.gen
	g.mu.Unlock()

	counts, err := g.src.CountBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := g.src.ListRecent(ctx, RecentRows)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := Data{GeneratedAt: g.now().UTC(), Counts: counts, Recent: recent}
	if err := Render(&buf, data); err != nil {
		return nil, err
	}
	pdf := buf.Bytes()

	if g.ttl > 0 {
		g.mu.Lock()
		if g.gen == gen {
			g.cache.SetDefault(healthKey, pdf)
		}
		g.mu.Unlock()
	}
	g.log.Debug("health report rendered",
		logger.Int("bytes", len(pdf)),
		logger.Int64("errors", data.Total()))
	return pdf, nil
}

// Invalidate drops the cached report. Called whenever errors are written.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.cache.Delete(healthKey)
}

var severityColors = map[string][3]int{
	routing.SeverityInfo:     {66, 133, 244},
	routing.SeverityWarn:     {251, 188, 5},
	routing.SeverityError:    {234, 67, 53},
	routing.SeverityCritical: {128, 0, 0},
}

// Render draws the report to w: a severity bar chart followed by the most
// recent error rows.
func Render(w io.Writer, d Data) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Error health report", true)
	pdf.SetCreator("errintake", true)
	pdf.SetCreationDate(d.GeneratedAt)
	pdf.SetModificationDate(d.GeneratedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Error health report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s, %d errors stored",
		d.GeneratedAt.Format(time.RFC3339), d.Total()), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	drawSeverityChart(pdf, d.Counts)
	pdf.Ln(6)
	drawRecentTable(pdf, tr, d.Recent)

	if err := pdf.Output(w); err != nil {
		return errors.New(fmt.Errorf("failed to render report: %w", err)).
			Component("report").
			Category(errors.CategoryInternal).
			Build()
	}
	return nil
}

func drawSeverityChart(pdf *fpdf.Fpdf, counts map[string]int64) {
	const (
		labelW = 25.0
		maxBar = 130.0
		barH   = 7.0
	)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Errors by severity", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	var peak int64
	for _, c := range counts {
		peak = max(peak, c)
	}

	left, _, _, _ := pdf.GetMargins()
	for _, sev := range routing.Severities() {
		n := counts[sev]
		y := pdf.GetY()
		pdf.CellFormat(labelW, barH, sev, "", 0, "L", false, 0, "")
		if n > 0 && peak > 0 {
			rgb := severityColors[sev]
			pdf.SetFillColor(rgb[0], rgb[1], rgb[2])
			pdf.Rect(left+labelW, y+1, maxBar*float64(n)/float64(peak), barH-2, "F")
		}
		pdf.SetXY(left+labelW+maxBar+3, y)
		pdf.CellFormat(0, barH, fmt.Sprintf("%d", n), "", 1, "L", false, 0, "")
	}
}

func drawRecentTable(pdf *fpdf.Fpdf, tr func(string) string, recent []entities.ErrorRecord) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Last %d errors", RecentRows), "", 1, "L", false, 0, "")

	widths := []float64{14, 38, 28, 22, 88}
	headers := []string{"ID", "Created", "Machine", "Severity", "Message"}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	if len(recent) == 0 {
		pdf.CellFormat(sum(widths), 7, "No errors recorded", "1", 1, "C", false, 0, "")
		return
	}
	for i := range recent {
		rec := &recent[i]
		cells := []string{
			fmt.Sprintf("%d", rec.ID),
			rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			tr(rec.Machine),
			rec.Severity,
			tr(truncate(rec.Message, 70)),
		}
		for j, c := range cells {
			pdf.CellFormat(widths[j], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}
