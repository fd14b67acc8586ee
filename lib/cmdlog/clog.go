// Package cmdlog traces the SCPI traffic of an instrument connection.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/gotmc/bode/lib/scpi"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// maxHexDump bounds how much of a binary response is logged.
const maxHexDump = 32

// Describe renders a response for the log: printable text is quoted, binary
// data is shown as its length and a hex prefix.
func Describe(resp []byte) string {
	switch {
	case len(resp) == 0:
		return R1Style.Render("<no response>")
	case isAscii(string(resp)):
		return R2Style.Render(fmt.Sprintf("[%d] %q", len(resp), resp))
	case len(resp) <= maxHexDump:
		return R2Style.Render(fmt.Sprintf("[%d] % 2x", len(resp), resp))
	}
	return R2Style.Render(fmt.Sprintf("[%d] % 2x ...", len(resp), resp[:maxHexDump]))
}

type tracer struct {
	conn scpi.Conn
	log  zerolog.Logger
}

// Trace wraps conn so that every command, query and response is logged at
// debug level on l.
func Trace(conn scpi.Conn, l zerolog.Logger) scpi.Conn {
	return &tracer{conn: conn, log: l}
}

func (t *tracer) Command(format string, a ...any) error {
	c := format
	if a != nil {
		c = fmt.Sprintf(format, a...)
	}
	if err := t.conn.Command("%s", c); err != nil {
		t.log.Error().Err(err).Msgf("cmd %s", CmdStyle.Render(c))
		return err
	}
	t.log.Debug().Msgf("%s()", CmdStyle.Render(c))
	return nil
}

func (t *tracer) Query(q string) (string, error) {
	s, err := t.conn.Query(q)
	if err != nil {
		t.log.Error().Err(err).Msgf("query %s", CmdStyle.Render(q))
		return s, err
	}
	t.log.Debug().Msgf("%s: %s", CmdStyle.Render(q), Describe([]byte(s)))
	return s, nil
}

func (t *tracer) QueryBlock(q string) ([]byte, error) {
	b, err := t.conn.QueryBlock(q)
	if err != nil {
		t.log.Error().Err(err).Msgf("query %s", CmdStyle.Render(q))
		return b, err
	}
	t.log.Debug().Msgf("%s: %s", CmdStyle.Render(q), Describe(b))
	return b, nil
}

func (t *tracer) Close() error {
	return t.conn.Close()
}
