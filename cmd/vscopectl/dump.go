package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/vscope/vscope-serial-go/capture"
)

func dumpCapture(path string, errorsOnly bool, stdout, stderr io.Writer) int {
	r, err := capture.NewReader(path, capture.Filter{ErrorsOnly: errorsOnly})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		fmt.Fprintln(stdout, formatEvent(e))
	}
}

func formatEvent(e capture.Event) string {
	head := fmt.Sprintf("%s %-3s #%d %s", e.Timestamp.Format("15:04:05.000000"), e.Direction, e.Handle, e.Port)
	switch {
	case e.Error != "":
		return fmt.Sprintf("%s error after %s: %s", head, e.Elapsed, e.Error)
	case len(e.Frame) > 0:
		return fmt.Sprintf("%s frame %s", head, hex.EncodeToString(e.Frame))
	default:
		return fmt.Sprintf("%s payload %s (%s)", head, hex.EncodeToString(e.Payload), e.Elapsed)
	}
}
