// Package mailnyalog implements smtp.Logger on top of logrus, wrapping
// long wire lines for readability and gating ANSI color output on
// whether the destination is a real terminal.
package mailnyalog

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// MaxLineLength is the wrap width for long SMTP lines (principally
// base64 AUTH frames and wrapped MIME bodies).
const MaxLineLength = 100

const (
	directionSend = "C>"
	directionRecv = "<S"
)

// Logger implements smtp.Logger over a logrus.FieldLogger, wrapping long
// lines the way wrapLong/indentWrap did, and colorizing output only when
// writing to a real terminal.
type Logger struct {
	entry  *logrus.Entry
	colors bool
}

// New builds a Logger writing through log, auto-detecting ANSI color
// support via isatty when out is a file (os.Stdout/os.Stderr); pass nil
// for out to disable the terminal check (no colors).
func New(log *logrus.Logger, out *os.File) *Logger {
	colors := false
	if out != nil {
		colors = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	}
	log.SetFormatter(&logrus.TextFormatter{ForceColors: colors, DisableTimestamp: false})
	return &Logger{entry: logrus.NewEntry(log), colors: colors}
}

func (l *Logger) Sent(line string)     { l.log(line, directionSend) }
func (l *Logger) Received(line string) { l.log(line, directionRecv) }

func (l *Logger) log(line, direction string) {
	wrapped := indentWrap(line, direction+"\t")
	l.entry.WithField("direction", direction).Debug(wrapped)
}

// wrapLong splits a single long line into MaxLineLength-wide chunks,
// indenting every chunk after the first by two spaces.
func wrapLong(line string) []string {
	var parts []string
	var tmp []string
	nLen := 0

	commit := func() {
		if nLen == 0 {
			return
		}
		indent := ""
		if len(parts) > 0 {
			indent = "  "
		}
		parts = append(parts, indent+strings.Join(tmp, " "))
		tmp = nil
		nLen = 0
	}

	for _, w := range strings.Split(line, " ") {
		wLen := utf8.RuneCountInString(w)
		if nLen+wLen+1 > MaxLineLength {
			commit()
		}
		tmp = append(tmp, w)
		nLen += wLen + 1
	}
	commit()
	return parts
}

// indentWrap indents every (possibly long-wrapped) line of txt by
// indent.
func indentWrap(txt, indent string) string {
	var parts []string
	txt = strings.ReplaceAll(txt, "\r", "")
	for _, line := range strings.Split(txt, "\n") {
		if utf8.RuneCountInString(line) > MaxLineLength {
			parts = append(parts, wrapLong(line)...)
		} else {
			parts = append(parts, line)
		}
	}
	return indent + strings.Join(parts, "\n"+indent)
}
