package ui

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"snowpulse/internal/scheduler"
	"snowpulse/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func statusCell(status models.Status) string {
	switch status {
	case models.StatusPass:
		return color.GreenString(string(status))
	case models.StatusWarn:
		return color.YellowString(string(status))
	case models.StatusFail:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

// formatMetric drops the fraction of whole-number metrics
func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RenderQualityTable writes one row per check result
func RenderQualityTable(w io.Writer, results []models.CheckResult) {
	table := newTable(w, []string{"Checked At", "Check", "Table", "Status", "Metric", "Threshold", "Message"})
	for _, r := range results {
		table.Append([]string{
			r.CheckedAt.UTC().Format(timeLayout),
			string(r.CheckName),
			r.TableName,
			statusCell(r.Status),
			formatMetric(r.MetricValue),
			formatMetric(r.Threshold),
			r.Message,
		})
	}
	table.Render()
}

// RenderAlertTable writes one row per alert, newest first as given
func RenderAlertTable(w io.Writer, alerts []models.AlertRecord) {
	table := newTable(w, []string{"#", "Triggered At", "Alert", "Ticker", "Metric", "Message"})
	for _, a := range alerts {
		name := a.AlertName
		if a.AlertName == models.AlertDataQualityFail {
			name = color.RedString(name)
		}
		table.Append([]string{
			strconv.FormatInt(a.AlertID, 10),
			a.TriggeredAt.UTC().Format(timeLayout),
			name,
			a.Ticker,
			fmt.Sprintf("%.2f", a.MetricValue),
			a.Message,
		})
	}
	table.Render()
}

// RenderJobTable writes scheduled job state
func RenderJobTable(w io.Writer, jobs []scheduler.JobState, now time.Time) {
	table := newTable(w, []string{"Job", "Schedule", "Status", "Last Run", "Next Run", "Error"})
	for _, j := range jobs {
		status := string(j.Status)
		switch j.Status {
		case scheduler.JobStatusFailed:
			status = color.RedString(status)
		case scheduler.JobStatusCompleted:
			status = color.GreenString(status)
		}
		table.Append([]string{
			j.Name,
			j.Spec,
			status,
			FormatAge(j.LastRun, now),
			FormatAge(j.NextRun, now),
			j.Error,
		})
	}
	table.Render()
}
