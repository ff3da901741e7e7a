package compliance

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/trailguard/trailguard/internal/domain/audit"
)

// Minimal single-font PDF writer. Reports are tabular text; a layout engine
// would be overkill for a fixed courier dump, and the output validates in
// standard readers.

const (
	pdfLineHeight   = 14
	pdfTopMargin    = 780
	pdfLeftMargin   = 50
	pdfLinesPerPage = 52
)

func reportPDF(rep *Report) ([]byte, error) {
	lines := []string{
		fmt.Sprintf("%s Compliance Report", rep.Framework),
		fmt.Sprintf("Report ID: %s", rep.ID),
		fmt.Sprintf("Organization: %s", rep.OrganizationID),
		fmt.Sprintf("Period: %s .. %s",
			rep.Period.From.UTC().Format("2006-01-02"),
			rep.Period.To.UTC().Format("2006-01-02")),
		fmt.Sprintf("Generated: %s", rep.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
		"",
		fmt.Sprintf("Total events:      %d", rep.Summary.TotalEvents),
		fmt.Sprintf("Unique principals: %d", rep.Summary.UniquePrincipals),
		fmt.Sprintf("Failure rate:      %.2f%%", rep.Summary.FailureRate*100),
		"",
	}
	lines = append(lines, countSection("Events by status", rep.Summary.ByStatus)...)
	lines = append(lines, countSection("Events by classification", rep.Summary.ByClassification)...)

	if rep.HIPAA != nil {
		lines = append(lines, "",
			"HIPAA",
			fmt.Sprintf("  PHI accesses:        %d", rep.HIPAA.PHIAccessCount),
			fmt.Sprintf("  Unauthorized PHI:    %d", rep.HIPAA.UnauthorizedPHI),
			fmt.Sprintf("  After-hours PHI:     %d", rep.HIPAA.AfterHoursPHIAccess))
	}
	if rep.GDPR != nil {
		lines = append(lines, "",
			"GDPR",
			fmt.Sprintf("  Data subject requests: %d", rep.GDPR.DataSubjectRequests),
			fmt.Sprintf("  Consent events:        %d", rep.GDPR.ConsentEvents),
			fmt.Sprintf("  Breach events:         %d", rep.GDPR.BreachEvents))
	}
	if rep.Integrity != nil {
		lines = append(lines, "",
			"Integrity",
			fmt.Sprintf("  Verified: %d", rep.Integrity.Verified),
			fmt.Sprintf("  Failed:   %d", rep.Integrity.Failed),
			fmt.Sprintf("  Unsigned: %d", rep.Integrity.Unsigned))
	}

	return renderPDF(lines), nil
}

func eventsPDF(events []*audit.Event, organizationID string) ([]byte, error) {
	lines := []string{
		"Audit Event Export",
		fmt.Sprintf("Organization: %s", organizationID),
		fmt.Sprintf("Events: %d", len(events)),
		"",
	}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%s  %-30s %-8s %s",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.Action, e.Status, e.PrincipalID))
	}
	return renderPDF(lines), nil
}

func countSection(title string, counts map[string]int64) []string {
	if len(counts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{title}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %-24s %d", k, counts[k]))
	}
	return lines
}

// renderPDF emits a valid PDF 1.4 document: one Courier content stream per
// page, explicit xref table.
func renderPDF(lines []string) []byte {
	var pages [][]string
	for start := 0; start < len(lines); start += pdfLinesPerPage {
		end := start + pdfLinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	if len(pages) == 0 {
		pages = [][]string{{""}}
	}

	// Objects: 1 catalog, 2 pages root, 3 font, then per page: page object
	// and content stream.
	type object struct {
		id   int
		body string
	}
	var objects []object

	pageIDs := make([]int, len(pages))
	nextID := 4
	for i := range pages {
		pageIDs[i] = nextID
		nextID += 2
	}

	kids := make([]string, len(pageIDs))
	for i, id := range pageIDs {
		kids[i] = fmt.Sprintf("%d 0 R", id)
	}

	objects = append(objects,
		object{1, "<< /Type /Catalog /Pages 2 0 R >>"},
		object{2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
			strings.Join(kids, " "), len(pages))},
		object{3, "<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>"},
	)

	for i, pageLines := range pages {
		pageID := pageIDs[i]
		contentID := pageID + 1

		var content bytes.Buffer
		content.WriteString("BT\n/F1 10 Tf\n")
		y := pdfTopMargin
		for _, line := range pageLines {
			fmt.Fprintf(&content, "1 0 0 1 %d %d Tm (%s) Tj\n",
				pdfLeftMargin, y, escapePDF(line))
			y -= pdfLineHeight
		}
		content.WriteString("ET")

		objects = append(objects,
			object{pageID, fmt.Sprintf(
				"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
					"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
				contentID)},
			object{contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream",
				content.Len(), content.String())},
		)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].id < objects[j].id })

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for _, obj := range objects {
		offsets[obj.id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", obj.id, obj.body)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for id := 1; id <= len(objects); id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)
	return buf.Bytes()
}

func escapePDF(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	return s
}
