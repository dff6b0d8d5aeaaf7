// Package main implements a mock agent CLI that mimics the terminal look
// of a chat runtime: an input prompt, a working spinner, a canned response
// per turn. Run it inside a tmux session to exercise reliable delivery,
// prompt-idle detection and check firing without burning real agent time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const spinnerTick = 250 * time.Millisecond

// eraseLine rewrites the current terminal row in place, so the spinner
// never scrolls into pane history.
const eraseLine = "\r\x1b[2K"

func main() {
	runtimeFlag := flag.String("runtime", "claude-code", "TUI flavor to mimic: claude-code, gemini-cli or codex-cli")
	turn := flag.Duration("turn", 3*time.Second, "how long each fake working turn lasts")
	flag.Parse()

	f, err := framesFor(*runtimeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: %v\n", err)
		os.Exit(2)
	}

	fmt.Println(f.banner())
	fmt.Print(f.idle())

	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			fmt.Print(f.idle())
			continue
		}
		if input == "/quit" || input == "/exit" {
			return
		}
		runTurn(f, input, *turn)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: scanner error: %v\n", err)
		os.Exit(1)
	}
}

// runTurn animates the working state for the configured duration, then
// prints the response and a fresh prompt.
func runTurn(f frames, input string, turn time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(spinnerTick)
	defer ticker.Stop()
	deadline := time.After(turn)

	tick := 0
	fmt.Print(eraseLine + f.working(0, tick))
	for done := false; !done; {
		select {
		case <-ticker.C:
			tick++
			fmt.Print(eraseLine + f.working(time.Since(start), tick))
		case <-deadline:
			done = true
		}
	}

	fmt.Print(eraseLine)
	fmt.Println(f.respond(input, time.Since(start)))
	fmt.Print(f.idle())
}
