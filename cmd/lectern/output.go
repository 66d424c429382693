package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Answers and JSON go to stdout; confirmations and fields go to stderr so
// `lectern ask` output can be piped.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

// printField writes an indented "label: value" line.
func printField(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// statusColor picks the color a document status is shown in.
func statusColor(status string) string {
	switch status {
	case "processed":
		return colorGreen
	case "partially_processed":
		return colorYellow
	case "failed":
		return colorRed
	default:
		return colorCyan
	}
}

// confidenceColor bands an answer's 0-100 confidence.
func confidenceColor(confidence int) string {
	switch {
	case confidence >= 70:
		return colorGreen
	case confidence >= 40:
		return colorYellow
	default:
		return colorRed
	}
}

func printDocument(d documentView) {
	printField("Document", "%s", colorize(colorCyan, d.ID))
	printField("Title", "%s", d.Title)
	printField("Status", "%s", colorize(statusColor(d.Status), d.Status))
	if d.ProcessingError != "" {
		printField("Error", "%s", d.ProcessingError)
	}
}

func printAnswer(ans answerView) {
	fmt.Fprintln(stdout, ans.Answer)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, colorize(colorBold, "Sources"))
		for _, s := range ans.Sources {
			fmt.Fprintf(stdout, "  %s [%d%%] %s\n", colorize(colorCyan, s.Title), s.Similarity, s.Snippet)
		}
	}
	pct := colorize(confidenceColor(ans.Confidence), fmt.Sprintf("%d%%", ans.Confidence))
	fmt.Fprintf(stdout, "\n%s %s (%s)\n", colorize(colorBold, "Confidence:"), pct, ans.Mode)
}
