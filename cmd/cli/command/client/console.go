package client

// console.go = interactive panel console over the relay WebSocket. It runs a
// local mirror of the relay state and turns typed lines into mutations.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/google/shlex"

	"panelbridge/internal/mirror"
	"panelbridge/internal/protocol"
)

type ConsoleOptions struct {
	URL   string
	Token string
	Codec string
	In    io.Reader
	Out   io.Writer
	// Logger receives connection events; nil discards them
	Logger *slog.Logger
}

type consoleAction struct {
	mutation *mirror.Mutation
	show     bool
	help     bool
	quit     bool
}

const consoleHelp = `commands:
  inc | increment          ask the relay to add one to the counter
  dec | decrement          ask the relay to subtract one
  power <display> on|off   switch a display
  state                    print the mirrored state
  help                     show this text
  quit | exit              leave the console`

// parseConsoleLine splits a line shell-style so quoted display ids work
func parseConsoleLine(line string) (consoleAction, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return consoleAction{}, fmt.Errorf("cannot parse line: %w", err)
	}
	if len(args) == 0 {
		return consoleAction{}, nil
	}

	switch strings.ToLower(args[0]) {
	case "inc", "increment":
		return consoleAction{mutation: &mirror.Mutation{Kind: mirror.IncrementCounter}}, nil
	case "dec", "decrement":
		return consoleAction{mutation: &mirror.Mutation{Kind: mirror.DecrementCounter}}, nil
	case "power":
		if len(args) != 3 {
			return consoleAction{}, fmt.Errorf("usage: power <display> on|off")
		}
		var power bool
		switch strings.ToLower(args[2]) {
		case "on":
			power = true
		case "off":
		default:
			return consoleAction{}, fmt.Errorf("power must be on or off, got %q", args[2])
		}
		return consoleAction{mutation: &mirror.Mutation{Kind: mirror.SetPower, DisplayID: args[1], Power: power}}, nil
	case "state":
		return consoleAction{show: true}, nil
	case "help", "?":
		return consoleAction{help: true}, nil
	case "quit", "exit":
		return consoleAction{quit: true}, nil
	}
	return consoleAction{}, fmt.Errorf("unknown command %q, type help", args[0])
}

// errorFrame recognises the relay's error replies in either codec
func errorFrame(frame []byte) (code, detail string, ok bool) {
	if protocol.Sniff(frame).Name() == "json" {
		var env protocol.Envelope
		if json.Unmarshal(frame, &env) != nil || env.Type != protocol.TopicError {
			return "", "", false
		}
		return env.Code, env.Detail, true
	}
	msg := protocol.ParseMessage(string(frame))
	if msg.Topic != protocol.TopicError || len(msg.Args) == 0 {
		return "", "", false
	}
	return msg.Args[0], strings.Join(msg.Args[1:], protocol.Delimiter), true
}

func printState(out io.Writer, st mirror.State) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "%s\n", st.SystemName)
	fmt.Fprintf(out, "  counter: %d\n", st.Counter)
	for _, d := range st.Displays {
		state := color.New(color.FgRed).Sprint("off")
		if d.Power {
			state = color.New(color.FgGreen).Sprint("on")
		}
		fmt.Fprintf(out, "  %-12s %-20s %s\n", d.ID, d.Name, state)
	}
}

// RunConsole connects, prints feedback as it arrives and reads commands
// from opts.In until quit, EOF or ctx is done.
func RunConsole(ctx context.Context, opts ConsoleOptions) error {
	codec, err := protocol.ByName(opts.Codec)
	if err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Add("Authorization", "Bearer "+opts.Token)
	}

	info := color.New(color.FgCyan)
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)

	store := mirror.NewStore(nil)
	store.Subscribe(func(mu mirror.Mutation, _ mirror.State) {
		switch mu.Kind {
		case mirror.SetSystemName:
			info.Fprintf(opts.Out, "name -> %s\n", mu.Name)
		case mirror.SetCounter:
			info.Fprintf(opts.Out, "counter -> %d\n", mu.Value)
		case mirror.SetPowerFeedback:
			state := "off"
			if mu.Power {
				state = "on"
			}
			info.Fprintf(opts.Out, "%s -> %s\n", mu.DisplayID, state)
		}
	})

	var m *mirror.Mirror
	conn := mirror.NewConn(mirror.ConnOptions{
		URL:          opts.URL,
		Header:       header,
		Subprotocols: []string{codec.Subprotocol()},
		OnFrame: func(frame []byte) {
			if code, detail, ok := errorFrame(frame); ok {
				fail.Fprintf(opts.Out, "relay error %s: %s\n", code, detail)
				return
			}
			m.HandleFrame(frame)
		},
		OnState: func(connected bool) {
			if connected {
				info.Fprintf(opts.Out, "connected to %s\n", opts.URL)
			} else {
				warn.Fprintln(opts.Out, "disconnected, reconnecting...")
			}
		},
		Logger: opts.Logger,
	})
	m = mirror.New(store, conn, codec, opts.Logger)
	defer m.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	connErr := make(chan error, 1)
	go func() { connErr <- conn.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-connErr:
			// Run only returns early when the relay refuses us for good
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			action, err := parseConsoleLine(line)
			if err != nil {
				warn.Fprintln(opts.Out, err)
				continue
			}
			switch {
			case action.quit:
				return nil
			case action.help:
				fmt.Fprintln(opts.Out, consoleHelp)
			case action.show:
				printState(opts.Out, store.State())
			case action.mutation != nil:
				before := m.Dropped()
				store.Commit(*action.mutation)
				if m.Dropped() > before {
					warn.Fprintln(opts.Out, "not connected, command dropped")
				}
			}
		}
	}
}
