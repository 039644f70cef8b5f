package services

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"sort"
	"time"

	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
	"github.com/krshsl/cascprep/models"
)

// FeedbackStation is a station with free-text feedback per domain, as sent to
// the plain report endpoint.
type FeedbackStation struct {
	Title    string            `json:"title"`
	Feedback map[string]string `json:"feedback"`
}

type reportDoc struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newReportDoc(title, candidate string, date time.Time) *reportDoc {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AddPage()

	d := &reportDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(26, 26, 102)
	pdf.CellFormat(0, 12, d.tr(title), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 9, d.tr("Candidate: "+candidate), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, "Date: "+date.Format("02/01/2006"), "", 1, "L", false, 0, "")
	pdf.Ln(4)
	return d
}

func (d *reportDoc) rule() {
	x, _, r, _ := d.pdf.GetMargins()
	w, _ := d.pdf.GetPageSize()
	y := d.pdf.GetY()
	d.pdf.SetDrawColor(204, 204, 204)
	d.pdf.Line(x, y, w-r, y)
	d.pdf.Ln(4)
}

// keepTogether starts a new page when less than h millimetres remain.
func (d *reportDoc) keepTogether(h float64) {
	_, pageH := d.pdf.GetPageSize()
	_, _, _, bottom := d.pdf.GetMargins()
	if d.pdf.GetY()+h > pageH-bottom {
		d.pdf.AddPage()
	}
}

func (d *reportDoc) stationHeading(title string) {
	d.keepTogether(30)
	d.pdf.SetFont("Helvetica", "B", 13)
	d.pdf.SetTextColor(26, 26, 102)
	d.pdf.MultiCell(0, 7, d.tr(title), "", "L", false)
	d.pdf.SetTextColor(0, 0, 0)
}

func (d *reportDoc) output(w io.Writer) error {
	if err := d.pdf.Error(); err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	return d.pdf.Output(w)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AverageScore is the mean overall station score, 0 for no stations.
func AverageScore(results []models.ScoreResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, r := range results {
		total += r.OverallStationScore
	}
	return total / float64(len(results))
}

// WriteScoreReport renders scored stations with an overall average and a
// per-station chart.
func WriteScoreReport(w io.Writer, candidate string, date time.Time, results []models.ScoreResult) error {
	d := newReportDoc("Psychiatry CASC Exam Report", candidate, date)
	pdf := d.pdf

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, "Overall Performance", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8, fmt.Sprintf("Average Score: %.2f / 10", AverageScore(results)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(results) > 0 {
		chart, err := scoreChartPNG(results)
		if err != nil {
			return err
		}
		pdf.RegisterImageOptionsReader("scores", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(chart))
		pdf.ImageOptions("scores", -1, -1, 170, 0, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		pdf.Ln(2)
	}
	d.rule()

	for _, r := range results {
		d.stationHeading(r.StationTitle)
		for _, domain := range sortedKeys(r.Scores) {
			pdf.SetFont("Helvetica", "", 11)
			pdf.CellFormat(60, 6, d.tr(domain+":"), "", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "B", 11)
			pdf.CellFormat(0, 6, fmt.Sprintf("%g/10", r.Scores[domain]), "", 1, "L", false, 0, "")
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 6, "Feedback:", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(51, 51, 51)
		pdf.MultiCell(0, 5, d.tr(r.Feedback), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(5)
	}
	return d.output(w)
}

// WriteFeedbackReport renders stations with written feedback per domain.
func WriteFeedbackReport(w io.Writer, candidate string, date time.Time, stations []FeedbackStation) error {
	d := newReportDoc("CASC Exam Report", candidate, date)
	d.rule()
	for i, s := range stations {
		d.stationHeading(fmt.Sprintf("Station %d: %s", i+1, s.Title))
		for _, domain := range sortedKeys(s.Feedback) {
			d.pdf.SetFont("Helvetica", "B", 10)
			d.pdf.MultiCell(0, 5, d.tr(domain), "", "L", false)
			d.pdf.SetFont("Helvetica", "", 10)
			d.pdf.MultiCell(0, 5, d.tr(s.Feedback[domain]), "", "L", false)
			d.pdf.Ln(1)
		}
		d.pdf.Ln(4)
	}
	return d.output(w)
}

// scoreChartPNG draws one bar per station on a 0-10 axis with the pass mark.
func scoreChartPNG(results []models.ScoreResult) ([]byte, error) {
	const (
		width, height = 1000, 360
		left, bottom  = 50.0, 40.0
		top           = 20.0
	)
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	plotH := float64(height) - bottom - top
	plotW := float64(width) - left - 20
	yFor := func(score float64) float64 {
		return float64(height) - bottom - plotH*score/10
	}

	dc.SetRGB(0.85, 0.85, 0.85)
	dc.SetLineWidth(1)
	for s := 0; s <= 10; s += 2 {
		y := yFor(float64(s))
		dc.DrawLine(left, y, left+plotW, y)
		dc.Stroke()
		dc.SetRGB(0.3, 0.3, 0.3)
		dc.DrawStringAnchored(fmt.Sprint(s), left-10, y, 1, 0.5)
		dc.SetRGB(0.85, 0.85, 0.85)
	}

	slot := plotW / float64(len(results))
	barW := slot * 0.6
	for i, r := range results {
		x := left + slot*float64(i) + (slot-barW)/2
		y := yFor(r.OverallStationScore)
		if r.OverallStationScore >= 5 {
			dc.SetRGB255(46, 125, 50)
		} else {
			dc.SetRGB255(198, 40, 40)
		}
		dc.DrawRectangle(x, y, barW, float64(height)-bottom-y)
		dc.Fill()
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringAnchored(fmt.Sprintf("S%d", i+1), x+barW/2, float64(height)-bottom+14, 0.5, 0.5)
		dc.DrawStringAnchored(fmt.Sprintf("%.1f", r.OverallStationScore), x+barW/2, y-8, 0.5, 0.5)
	}

	dc.SetRGB255(26, 26, 102)
	dc.SetDash(6, 4)
	dc.DrawLine(left, yFor(5), left+plotW, yFor(5))
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode score chart: %w", err)
	}
	return buf.Bytes(), nil
}
