package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/text/message"

	vscope "github.com/vscope/vscope-serial-go"
)

// shell is the interactive command loop bound to one open connection.
type shell struct {
	s       *vscope.Session
	h       vscope.Handle
	printer *message.Printer
	out     io.Writer
}

func runShell(s *vscope.Session, h vscope.Handle, printer *message.Printer, stdout io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vscope> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{s: s, h: h, printer: printer, out: rl.Stdout()}
	sh.printHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		if !sh.exec(strings.TrimSpace(line)) {
			return nil
		}
	}
}

// exec runs one command line and reports whether the loop should continue.
func (sh *shell) exec(input string) bool {
	if input == "" {
		return true
	}
	cmd, rest, _ := strings.Cut(input, " ")
	switch strings.ToLower(cmd) {
	case "help", "?":
		sh.printHelp()
	case "quit", "exit":
		return false
	case "send":
		payload, err := parseHex(rest)
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
			return true
		}
		resp, err := sh.s.Send(sh.h, payload)
		if err != nil {
			reportError(sh.out, sh.printer, err, false)
			return true
		}
		printReply(sh.out, resp, false)
	case "flush":
		if err := sh.s.Flush(sh.h); err != nil {
			reportError(sh.out, sh.printer, err, false)
		}
	case "ports":
		ports, err := sh.s.Enumerate(vscope.Filter{Contains: strings.TrimSpace(rest)})
		if err != nil {
			reportError(sh.out, sh.printer, err, false)
			return true
		}
		if len(ports) == 0 {
			fmt.Fprintln(sh.out, sh.printer.Sprintf("msg.no_ports"))
		}
		for _, p := range ports {
			fmt.Fprintf(sh.out, "  %s (%s)\n", p.Path, p.PortType)
		}
	case "handles":
		fmt.Fprintln(sh.out, sh.s.Registry().Handles())
	default:
		// Bare hex is a shortcut for send.
		if payload, err := parseHex(input); err == nil {
			return sh.exec("send " + hexString(payload))
		}
		fmt.Fprintf(sh.out, "unknown command %q, type help\n", cmd)
	}
	return true
}

func hexString(b []byte) string {
	return fmt.Sprintf("%x", b)
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, "Commands:")
	fmt.Fprintln(sh.out, "  send <hex>    send one request, first byte is the message type")
	fmt.Fprintln(sh.out, "  <hex>         same as send")
	fmt.Fprintln(sh.out, "  flush         discard pending input and output")
	fmt.Fprintln(sh.out, "  ports [text]  list serial ports")
	fmt.Fprintln(sh.out, "  handles       list open connections")
	fmt.Fprintln(sh.out, "  quit          close the connection and exit")
}
