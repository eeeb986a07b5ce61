package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mllp-protocol/mllp-go/pkg/hl7"
	"github.com/mllp-protocol/mllp-go/pkg/transport"
)

// runInteractive runs a command loop over one open connection.
func runInteractive(conn *transport.Connection, timeout time.Duration) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mllp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "Connected to %s (conn %s)\n", conn.RemoteAddr(), conn.ConnID())
	printHelp(rl)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			printHelp(rl)

		case "send", "s":
			if len(args) != 1 {
				fmt.Fprintln(rl.Stdout(), "Usage: send <message-file>")
				continue
			}
			cmdSend(rl, conn, args[0], timeout)

		case "status":
			fmt.Fprintf(rl.Stdout(), "State: %s  Remote: %s  Conn: %s\n",
				conn.State(), conn.RemoteAddr(), conn.ConnID())

		case "quit", "q", "exit":
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil

		default:
			fmt.Fprintf(rl.Stdout(), "Unknown command: %s\n", cmd)
		}
	}
}

func cmdSend(rl *readline.Instance, conn *transport.Connection, path string, timeout time.Duration) {
	text, err := readMessage(path)
	if err != nil {
		fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
		return
	}

	start := time.Now()
	response, err := sendOnce(conn, text, timeout)
	if err != nil {
		fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
		return
	}
	elapsed := time.Since(start)

	fmt.Fprintln(rl.Stdout(), displayText(response))
	if ack, err := hl7.Parse(response); err == nil {
		if msa := ack.Segment("MSA"); msa != nil {
			fmt.Fprintf(rl.Stdout(), "Acknowledgement: %s (%s)\n", msa.Field(1), elapsed.Round(time.Millisecond))
		}
	}
}

func printHelp(rl *readline.Instance) {
	fmt.Fprint(rl.Stdout(), `Commands:
  send <file>  Send a message file and print the acknowledgement
  status       Show connection state
  help         Show this help
  quit         Close the connection and exit
`)
}
