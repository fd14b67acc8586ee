package scpi

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadBlock(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []byte
		rest string
	}{
		{"definite", "#15hello\nNEXT", []byte("hello"), "NEXT"},
		{"binary with newline", "#14\x00\n\xff\x80\n", []byte{0, '\n', 0xff, 0x80}, ""},
		{"nine digit length", "#9000000003abc", []byte("abc"), ""},
		{"leftover terminators", "\r\n#12ok\r\n", []byte("ok"), ""},
		{"empty", "#10\n", []byte{}, ""},
		{"indefinite", "#0raw data\nNEXT", []byte("raw data"), "NEXT"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := reader(tc.in)
			got, err := ReadBlock(r)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			rest, _ := r.ReadString(0)
			assert.Equal(t, tc.rest, rest)
		})
	}
}

func TestReadBlockErrors(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		wantHdr bool
	}{
		{"no hash", "15hello", true},
		{"bad digit", "#x5hello", true},
		{"bad length", "#2a5hello", true},
		{"short data", "#210abc", false},
		{"truncated header", "#3", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadBlock(reader(tc.in))
			require.Error(t, err)
			if tc.wantHdr {
				assert.ErrorIs(t, err, ErrBlockHeader)
			} else {
				assert.NotErrorIs(t, err, ErrBlockHeader)
			}
		})
	}
}

func TestReadLine(t *testing.T) {
	r := reader("\n\r\nRIGOL,DS1054Z\r\n1.5e-3\nlast")
	got, err := ReadLine(r, '\n')
	require.NoError(t, err)
	assert.Equal(t, "RIGOL,DS1054Z", got)
	got, err = ReadLine(r, '\n')
	require.NoError(t, err)
	assert.Equal(t, "1.5e-3", got)
	got, err = ReadLine(r, '\n')
	require.NoError(t, err)
	assert.Equal(t, "last", got)
	_, err = ReadLine(r, '\n')
	assert.Error(t, err)
}

// serve accepts one connection and answers each received line with the
// result of reply.
func serve(t *testing.T, reply func(cmd string) string) (string, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	got := make(chan []string, 1)
	go func() {
		var cmds []string
		defer func() { got <- cmds }()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			cmds = append(cmds, sc.Text())
			if resp := reply(sc.Text()); resp != "" {
				if _, err := conn.Write([]byte(resp)); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String(), got
}

func TestSocket(t *testing.T) {
	addr, got := serve(t, func(cmd string) string {
		switch cmd {
		case "*IDN?":
			return "RIGOL TECHNOLOGIES,DS1054Z,DS1ZA0000,00.04.04\n"
		case ":WAV:DATA?":
			return "#9000000004\x01\x02\n\x03\n"
		}
		return ""
	})

	s, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Command(":CHAN%d:SCAL %g", 1, 0.5))
	idn, err := s.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "RIGOL TECHNOLOGIES,DS1054Z,DS1ZA0000,00.04.04", idn)
	data, err := s.QueryBlock(":WAV:DATA?")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, '\n', 3}, data)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{":CHAN1:SCAL 0.5", "*IDN?", ":WAV:DATA?"}, <-got)
}

func TestSocketTimeout(t *testing.T) {
	addr, _ := serve(t, func(string) string { return "" })
	s, err := Dial(context.Background(), addr, 50*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Query(":TRIG:STAT?")
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestDialDefaultPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "192.0.2.1", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "192.0.2.1:5555")
}

func TestSocketQueryVerbatim(t *testing.T) {
	addr, got := serve(t, func(cmd string) string {
		if strings.HasPrefix(cmd, ":MEAS:STAT:ITEM?") {
			return "5.000000e-01\n"
		}
		return "#14%d%s\n"
	})
	s, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)

	v, err := s.Query(":MEAS:STAT:ITEM? MAX,VPP,CHAN1 % 100%")
	require.NoError(t, err)
	assert.Equal(t, "5.000000e-01", v)
	data, err := s.QueryBlock(":SYST:SETUP? %s")
	require.NoError(t, err)
	assert.Equal(t, []byte("%d%s"), data)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{":MEAS:STAT:ITEM? MAX,VPP,CHAN1 % 100%", ":SYST:SETUP? %s"}, <-got)
}
