package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/torcirc/torcirc/internal/database"
)

// MarkdownWriter outputs run reports in GitHub-flavored markdown, for
// documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter writing to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(report *RunReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeNodes(md, report)
	w.writeJobs(md, report)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *RunReport) {
	md.H1("torcirc Run Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Nodes (total)", strconv.Itoa(len(report.Nodes))},
			{"Nodes (active)", strconv.Itoa(report.ActiveNodes())},
			{"Jobs recorded", strconv.Itoa(report.TotalJobs())},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeNodes(md *markdown.Markdown, report *RunReport) {
	md.H2("Exit Nodes")
	md.PlainText("")

	if len(report.Nodes) == 0 {
		md.PlainText("No node history recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Nodes))
	for _, n := range report.Nodes {
		retired := "-"
		if !n.RetiredAt.IsZero() {
			retired = n.RetiredAt.Format("2006-01-02 15:04:05")
		}
		exitIP := n.ExitIP
		if exitIP == "" {
			exitIP = "-"
		}
		rows = append(rows, []string{
			"`" + shortID(n.NodeID) + "`",
			n.ProxyAddr,
			exitIP,
			strconv.Itoa(n.Rotations),
			n.CreatedAt.Format("2006-01-02 15:04:05"),
			retired,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Node", "Proxy", "Exit IP", "Rotations", "Created", "Retired"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeJobs(md *markdown.Markdown, report *RunReport) {
	md.H2("Jobs")
	md.PlainText("")

	if report.TotalJobs() == 0 {
		md.PlainText("No job results recorded.")
		md.PlainText("")
		return
	}

	statuses := []string{"succeeded", "abandoned"}
	rows := make([][]string, 0, len(statuses)+1)
	for _, status := range statuses {
		rows = append(rows, []string{status, strconv.Itoa(report.JobCounts[status])})
	}
	rows = append(rows, []string{"**total**", "**" + strconv.Itoa(report.TotalJobs()) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})

	w.writeJobChart(md, report)
	w.writeRecentJobs(md, report.RecentJobs)
}

// writeJobChart renders a mermaid pie chart of job outcomes.
func (w *MarkdownWriter) writeJobChart(md *markdown.Markdown, report *RunReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Job Outcomes"),
		piechart.WithShowData(true),
	)

	for _, status := range []string{"succeeded", "abandoned"} {
		if n := report.JobCounts[status]; n > 0 {
			chart.LabelAndIntValue(status, uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeRecentJobs(md *markdown.Markdown, jobs []database.JobResult) {
	md.H2("Recent Jobs")
	md.PlainText("")

	if len(jobs) == 0 {
		md.PlainText("No recent jobs.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		detail := strconv.Itoa(j.StatusCode)
		if j.FailureReason != "" {
			detail = j.FailureReason
		}
		rows = append(rows, []string{
			"`" + shortID(j.JobID) + "`",
			j.TargetURL,
			j.Status,
			detail,
			formatDuration(j.Duration),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Job", "Target", "Status", "Result", "Duration"},
		Rows:   rows,
	})
	md.PlainText("")
}

// shortID truncates UUIDs to their first group for table readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
