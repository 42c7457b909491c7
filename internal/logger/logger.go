// Package logger provides structured logging with verbosity control.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents logging verbosity.
type Level int

// Log levels.
const (
	LevelInfo Level = iota
	LevelDebug
)

// OutputFormat represents the output format.
type OutputFormat int

// Output formats.
const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Outcomes reported by Outcome.
const (
	OutcomeOK   = "OK"
	OutcomeFail = "FAIL"
	OutcomeSkip = "SKIP"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Logger wraps a logrus entry with the CLI conveniences used across the
// tool: dry-run prefixing, tables, record diffs and pass outcomes.
type Logger struct {
	entry   *logrus.Entry
	out     io.Writer
	level   Level
	format  OutputFormat
	dryRun  bool
	noColor bool
}

// Options configures the logger.
type Options struct {
	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer
	// TableOutput receives rendered tables in text mode. Defaults to os.Stdout.
	TableOutput io.Writer
	Verbose     bool
	JSON        bool
	NoColor     bool
}

// New creates a new logger with options.
func New(opts Options) *Logger {
	level := LevelInfo
	if opts.Verbose {
		level = LevelDebug
	}
	format := FormatText
	if opts.JSON {
		format = FormatJSON
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.TableOutput == nil {
		opts.TableOutput = os.Stdout
	}

	base := logrus.New()
	base.SetOutput(opts.Output)
	base.SetLevel(logrus.InfoLevel)
	if level == LevelDebug {
		base.SetLevel(logrus.DebugLevel)
	}
	if format == FormatJSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors:    opts.NoColor,
			DisableTimestamp: true,
			DisableQuote:     true,
		})
	}

	out := opts.TableOutput
	if format == FormatJSON {
		out = opts.Output
	}

	return &Logger{
		entry:   logrus.NewEntry(base),
		out:     out,
		level:   level,
		format:  format,
		noColor: opts.NoColor || opts.JSON,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Options{Output: io.Discard, TableOutput: io.Discard, NoColor: true})
}

// SetDryRun sets dry-run mode for log prefix.
func (l *Logger) SetDryRun(dryRun bool) {
	l.dryRun = dryRun
}

// With returns a child logger carrying an extra field on every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	child := *l
	child.entry = l.entry.WithField(key, value)
	return &child
}

// Info logs informational messages (always shown).
func (l *Logger) Info(format string, args ...interface{}) {
	l.prepared(nil).Info(l.message(format, args...))
}

// InfoWithData logs informational messages with additional structured data.
func (l *Logger) InfoWithData(message string, data map[string]interface{}) {
	l.prepared(data).Info(l.message("%s", message))
}

// Debug logs debug messages (only in verbose mode).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level < LevelDebug {
		return
	}
	msg := l.message(format, args...)
	if l.format == FormatText {
		msg = l.colorize(colorGray, msg)
	}
	l.prepared(nil).Debug(msg)
}

// Warn logs warning messages.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.prepared(nil).Warn(l.message(format, args...))
}

// Error logs error messages.
func (l *Logger) Error(format string, args ...interface{}) {
	l.prepared(nil).Error(l.message(format, args...))
}

// Outcome logs the result of one unit of work inside a reconciliation pass.
// FAIL is logged at error level, SKIP at warning level, OK at info level.
func (l *Logger) Outcome(pass, entity, outcome, reason string) {
	fields := map[string]interface{}{
		"pass":    pass,
		"entity":  entity,
		"outcome": outcome,
	}
	if reason != "" {
		fields["reason"] = reason
	}

	msg := fmt.Sprintf("%s %s", pass, entity)
	if l.format == FormatText {
		msg = fmt.Sprintf("%s %s", l.colorizeOutcome(outcome), msg)
		if reason != "" {
			msg += ": " + reason
		}
	}

	e := l.prepared(fields)
	switch outcome {
	case OutcomeFail:
		e.Error(l.message("%s", msg))
	case OutcomeSkip:
		e.Warn(l.message("%s", msg))
	default:
		e.Info(l.message("%s", msg))
	}
}

// HTTPRequest logs an HTTP request (debug level).
func (l *Logger) HTTPRequest(method, url string) {
	if l.level < LevelDebug {
		return
	}
	l.prepared(map[string]interface{}{
		"type":   "request",
		"method": method,
		"url":    url,
	}).Debug(l.message("HTTP request %s %s", method, url))
}

// HTTPResponse logs an HTTP response (debug level).
func (l *Logger) HTTPResponse(method, url string, statusCode int) {
	if l.level < LevelDebug {
		return
	}
	l.prepared(map[string]interface{}{
		"type":       "response",
		"method":     method,
		"url":        url,
		"statusCode": statusCode,
	}).Debug(l.message("HTTP response %s %s -> %s", method, url, l.colorizeStatus(statusCode)))
}

// Table prints a table with headers and rows.
func (l *Logger) Table(title string, headers []string, rows [][]string) {
	if l.format == FormatJSON {
		data := make([]map[string]string, len(rows))
		for i, row := range rows {
			rowMap := make(map[string]string)
			for j, header := range headers {
				if j < len(row) {
					rowMap[header] = row[j]
				}
			}
			data[i] = rowMap
		}
		l.prepared(map[string]interface{}{"records": data}).Info(title)
		return
	}

	if len(rows) == 0 {
		fmt.Fprintf(l.out, "%s%s: (none)\n", l.getPrefix(), title)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	fmt.Fprintf(l.out, "%s%s\n", l.getPrefix(), l.colorize(colorBold, title+":"))

	var header strings.Builder
	header.WriteString(l.getPrefix() + "  ")
	for i, h := range headers {
		header.WriteString(l.colorize(colorGray, fmt.Sprintf("%-*s", widths[i]+2, h)))
	}
	fmt.Fprintln(l.out, header.String())

	for _, row := range rows {
		var line strings.Builder
		line.WriteString(l.getPrefix() + "  ")
		for i, cell := range row {
			if i < len(widths) {
				line.WriteString(fmt.Sprintf("%-*s", widths[i]+2, cell))
			}
		}
		fmt.Fprintln(l.out, line.String())
	}
}

// Diff logs a diff line with appropriate coloring.
func (l *Logger) Diff(op, content string) {
	if l.level < LevelDebug {
		return
	}
	if l.format == FormatJSON {
		l.prepared(map[string]interface{}{
			"operation": op,
			"content":   content,
		}).Debug("diff")
		return
	}

	var line string
	switch op {
	case "+":
		line = l.colorize(colorGreen, "+ "+content)
	case "-":
		line = l.colorize(colorRed, "- "+content)
	case "~":
		line = l.colorize(colorYellow, "~ "+content)
	default:
		line = "  " + content
	}
	l.prepared(nil).Debug(l.message("    %s", line))
}

func (l *Logger) prepared(data map[string]interface{}) *logrus.Entry {
	e := l.entry
	if len(data) > 0 {
		e = e.WithFields(logrus.Fields(data))
	}
	if l.dryRun && l.format == FormatJSON {
		e = e.WithField("dryRun", true)
	}
	return e
}

func (l *Logger) message(format string, args ...interface{}) string {
	return l.getPrefix() + fmt.Sprintf(format, args...)
}

func (l *Logger) getPrefix() string {
	if l.dryRun && l.format == FormatText {
		return l.colorize(colorYellow, "[DRY RUN] ")
	}
	return ""
}

func (l *Logger) colorize(color, text string) string {
	if l.noColor {
		return text
	}
	return color + text + colorReset
}

func (l *Logger) colorizeOutcome(outcome string) string {
	switch outcome {
	case OutcomeOK:
		return l.colorize(colorGreen, "["+outcome+"]")
	case OutcomeFail:
		return l.colorize(colorRed, "["+outcome+"]")
	default:
		return l.colorize(colorYellow, "["+outcome+"]")
	}
}

func (l *Logger) colorizeStatus(statusCode int) string {
	status := fmt.Sprintf("%d", statusCode)
	switch {
	case l.format == FormatJSON:
		return status
	case statusCode >= 200 && statusCode < 300:
		return l.colorize(colorGreen, status)
	case statusCode >= 300 && statusCode < 400:
		return l.colorize(colorYellow, status)
	default:
		return l.colorize(colorRed, status)
	}
}

// MaskSecret masks sensitive data, showing only first and last 2 chars.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
