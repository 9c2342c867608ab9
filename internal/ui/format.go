// Package ui renders terminal output for the snowpulse CLI.
package ui

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

var (
	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(color string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, color)
		}
		return text
	}
}

// ShowHeader displays a formatted header
func ShowHeader(title string) {
	width := 50
	padding := (width - len(title) - 2) / 2
	if padding < 0 {
		padding = 0
	}
	right := width - 2 - padding - len(title)
	if right < 0 {
		right = 0
	}

	fmt.Println("\n+" + strings.Repeat("-", width-2) + "+")
	fmt.Printf("|%s%s%s|\n",
		strings.Repeat(" ", padding),
		ColorBold(title),
		strings.Repeat(" ", right),
	)
	fmt.Println("+" + strings.Repeat("-", width-2) + "+")
}

// ShowError prints err with its code and any suggestions attached to it
func ShowError(err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		fmt.Printf("\n%s [%s] %s\n", ColorError("ERROR:"), appErr.Code, appErr.Message)
		if appErr.Cause != nil {
			fmt.Printf("  %s\n", ColorDim(appErr.Cause.Error()))
		}
		for _, s := range appErr.Suggestions {
			fmt.Printf("  %s %s\n", ColorInfo("TIP:"), s)
		}
		if len(appErr.Suggestions) == 0 {
			showSuggestion(err.Error())
		}
		return
	}

	fmt.Printf("\n%s\n", ColorError("ERROR:"))
	for i, line := range strings.Split(err.Error(), "\n") {
		if i == 0 {
			fmt.Printf("  %s\n", line)
		} else {
			fmt.Printf("  %s\n", ColorDim(line))
		}
	}
	showSuggestion(err.Error())
}

func showSuggestion(message string) {
	if suggestion := getSuggestion(message); suggestion != "" {
		fmt.Printf("\n  %s %s\n", ColorInfo("TIP:"), ColorInfo(suggestion))
	}
}

func ShowSuccess(message string) {
	fmt.Printf("%s %s\n", ColorSuccess("SUCCESS:"), message)
}

func ShowWarning(message string) {
	fmt.Printf("%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

func ShowInfo(message string) {
	fmt.Printf("%s %s\n", ColorInfo("INFO:"), message)
}

// PrintKeyValue prints an aligned "key: value" line
func PrintKeyValue(key, value string) {
	fmt.Printf("  %-18s %s\n", key+":", value)
}

// FormatStatus colours a check status
func FormatStatus(status models.Status) string {
	switch status {
	case models.StatusPass:
		return ColorSuccess(string(status))
	case models.StatusWarn:
		return ColorWarning(string(status))
	case models.StatusFail:
		return ColorError(string(status))
	default:
		return string(status)
	}
}

// FormatCounts renders "7 PASS, 2 WARN, 1 FAIL", omitting zero counts
func FormatCounts(counts map[models.Status]int) string {
	var parts []string
	for _, status := range []models.Status{models.StatusPass, models.StatusWarn, models.StatusFail} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, FormatStatus(status)))
		}
	}
	if len(parts) == 0 {
		return ColorDim("no results")
	}
	return strings.Join(parts, ", ")
}

// getSuggestion returns helpful suggestions based on error messages
func getSuggestion(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "authentication failed") || strings.Contains(lower, "incorrect username or password"):
		return "Check snowflake.username and the password or private key in the configuration"
	case strings.Contains(lower, "connection refused"):
		return "Verify the Snowflake account identifier and network connectivity"
	case strings.Contains(lower, "does not exist"):
		return "Run 'snowpulse migrate up' or check snowflake.database and snowflake.schema"
	case strings.Contains(lower, "insufficient privileges"):
		return "Ensure the configured role can read ANALYTICS and write COMMON"
	case strings.Contains(lower, "warehouse") && strings.Contains(lower, "suspended"):
		return "Resume the warehouse or enable auto-resume"
	default:
		return ""
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// FormatDuration is the exported form of formatDuration
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}

// FormatAge renders how long ago t was relative to now, "never" for zero
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return ColorDim("never")
	}
	if d := now.Sub(t); d >= 0 {
		return formatDuration(d.Truncate(time.Second)) + " ago"
	}
	return "in " + formatDuration(t.Sub(now).Truncate(time.Second))
}
