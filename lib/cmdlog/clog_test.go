package cmdlog

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	cmds  []string
	resp  string
	block []byte
	err   error
}

func (s *stubConn) Command(format string, a ...any) error {
	if a != nil {
		format = fmt.Sprintf(format, a...)
	}
	s.cmds = append(s.cmds, format)
	return s.err
}

func (s *stubConn) Query(string) (string, error)      { return s.resp, s.err }
func (s *stubConn) QueryBlock(string) ([]byte, error) { return s.block, s.err }
func (s *stubConn) Close() error                      { return nil }

func TestIsAscii(t *testing.T) {
	assert.True(t, isAscii("RIGOL TECHNOLOGIES,DS1054Z\r\n"))
	assert.False(t, isAscii("\x00\x01"))
	assert.False(t, isAscii("\x1b[0m"))
	assert.False(t, isAscii("µ"))
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, Describe(nil), "<no response>")
	assert.Contains(t, Describe([]byte("STOP")), `[4] "STOP"`)
	assert.Contains(t, Describe([]byte{0, 0xff}), "[2] 00 ff")
	long := Describe(bytes.Repeat([]byte{0x80}, 1200))
	assert.Contains(t, long, "[1200] 80")
	assert.Contains(t, long, "...")
	assert.Less(t, len(long), 200)
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)
	stub := &stubConn{resp: "TD", block: []byte{1, 2, 3}}
	conn := Trace(stub, l)

	require.NoError(t, conn.Command(":CHAN%d:SCAL %g", 2, 0.5))
	got, err := conn.Query(":TRIG:STAT?")
	require.NoError(t, err)
	assert.Equal(t, "TD", got)
	b, err := conn.QueryBlock(":WAV:DATA?")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	require.NoError(t, conn.Close())

	assert.Equal(t, []string{":CHAN2:SCAL 0.5"}, stub.cmds)
	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, `"level":"debug"`))
	assert.Contains(t, out, ":CHAN2:SCAL 0.5")
	assert.Contains(t, out, ":TRIG:STAT?")
	assert.Contains(t, out, "01 02 03")
}

func TestTraceErrors(t *testing.T) {
	var buf bytes.Buffer
	stub := &stubConn{err: errors.New("timeout")}
	conn := Trace(stub, zerolog.New(&buf))

	assert.Error(t, conn.Command(":RUN"))
	_, err := conn.Query("*IDN?")
	assert.Error(t, err)
	_, err = conn.QueryBlock(":WAV:DATA?")
	assert.Error(t, err)
	assert.Equal(t, 3, strings.Count(buf.String(), `"level":"error"`))
}

func TestTraceCommandVerbatim(t *testing.T) {
	stub := &stubConn{}
	conn := Trace(stub, zerolog.Nop())
	require.NoError(t, conn.Command(":DISP:TEXT %s", "100%"))
	assert.Equal(t, []string{":DISP:TEXT 100%"}, stub.cmds)
}
