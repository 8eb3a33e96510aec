package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEmulatedSend(t *testing.T) {
	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-t", "500", "-m", "0a 0b 0c"}, &out, &errb)
	require.Equal(t, 0, code, errb.String())
	assert.Equal(t, "0a0b0c\n", out.String())
}

func TestRunEmulatedJSON(t *testing.T) {
	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-t", "500", "-json", "-m", "01"}, &out, &errb)
	require.Equal(t, 0, code, errb.String())

	var reply map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &reply))
	assert.Equal(t, "01", reply["reply"])
}

func TestRunCaptureAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.cbor")

	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-t", "500", "-capture", path, "-m", "0203"}, &out, &errb)
	require.Equal(t, 0, code, errb.String())

	out.Reset()
	code = run([]string{"-dump", path}, &out, &errb)
	require.Equal(t, 0, code, errb.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "OUT")
	assert.Contains(t, lines[0], "frame c8030203")
	assert.Contains(t, lines[1], "IN")
	assert.Contains(t, lines[1], "payload 0203")
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-m", ""}, &out, &errb)
	assert.Equal(t, 2, code)
}

func TestRunRejectsBadConfig(t *testing.T) {
	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-d", "9", "-m", "01"}, &out, &errb)
	assert.Equal(t, 2, code)
	assert.Contains(t, errb.String(), "data bits")
}

func TestParseHex(t *testing.T) {
	b, err := parseHex("0x01 0xff:10")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xff, 0x10}, b)

	_, err = parseHex("zz")
	assert.Error(t, err)
}

func TestShellExec(t *testing.T) {
	var out bytes.Buffer
	sh := &shell{out: &out}
	assert.False(t, sh.exec("quit"))
	assert.True(t, sh.exec(""))
	assert.True(t, sh.exec("bogus"))
	assert.Contains(t, out.String(), "unknown command")
}

func TestRunWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vscopectl.log")
	var out, errb bytes.Buffer
	code := run([]string{"-emulate", "-t", "500", "-log", "info", "-logfile", path, "-m", "01"}, &out, &errb)
	require.Equal(t, 0, code, errb.String())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"port opened"`)
	assert.Contains(t, string(b), `"app":"vscopectl"`)
}
