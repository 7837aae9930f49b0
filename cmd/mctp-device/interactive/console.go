// Package interactive provides the interactive command-line console
// for the MCTP device.
package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/service"
)

// Console handles the interactive mode for mctp-device.
type Console struct {
	svc *service.EndpointService
	rl  *readline.Instance
}

// New creates a console over a running endpoint service.
func New(svc *service.EndpointService) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mctp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{svc: svc, rl: rl}

	// Show transitions on the console without clobbering the prompt.
	svc.OnEvent(func(ev service.Event) {
		switch ev.Type {
		case service.EventAssigned:
			fmt.Fprintf(rl.Stdout(), "\n[event] assigned EID %s by %s\n", ev.EID, ev.BusOwner)
		case service.EventReset:
			fmt.Fprintf(rl.Stdout(), "\n[event] reset to unassigned\n")
		case service.EventTransportDown:
			fmt.Fprintf(rl.Stdout(), "\n[event] transport down: %v\n", ev.Err)
		}
	})

	return c, nil
}

// Run starts the command loop. It exits on quit, EOF, or context end,
// cancelling the service context on the way out.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
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
			c.printHelp()

		case "state", "s":
			c.cmdState()

		case "uuid":
			fmt.Fprintln(c.rl.Stdout(), c.svc.State().UUID())

		case "types", "t":
			c.cmdTypes()

		case "notify", "n":
			c.svc.NotifyDiscovery()
			fmt.Fprintln(c.rl.Stdout(), "discovery notify queued")

		case "send":
			c.cmdSend(ctx, args)

		case "quit", "exit", "q":
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "unknown command %q, try help\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `Commands:
  state, s            Show endpoint assignment state
  uuid                Show the endpoint UUID
  types, t            Show supported message types
  notify, n           Send a Discovery Notify
  send <eid> <hex>    Send a raw message body (hex, leading type byte)
  help, ?             Show this help
  quit, exit, q       Shut down
`)
}

func (c *Console) cmdState() {
	snap := c.svc.State().Snapshot()
	if snap.Assigned {
		fmt.Fprintf(c.rl.Stdout(), "assigned, EID %s, MTU %d\n", snap.EID, snap.MTU)
	} else {
		fmt.Fprintf(c.rl.Stdout(), "unassigned, MTU %d\n", snap.MTU)
	}
}

func (c *Console) cmdTypes() {
	for _, t := range c.svc.State().SupportedTypes() {
		fmt.Fprintf(c.rl.Stdout(), "  0x%02x %s\n", uint8(t), t)
	}
}

func (c *Console) cmdSend(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: send <eid> <hex-body>")
		return
	}
	eid, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "bad EID %q: %v\n", args[0], err)
		return
	}
	body, err := hex.DecodeString(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "bad hex body: %v\n", err)
		return
	}
	if len(body) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "body needs at least the message type byte")
		return
	}

	tag, err := c.svc.Send(ctx, mctp.EID(eid), body)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "sent %d bytes to %s on tag %d\n", len(body), mctp.EID(eid), tag)
}
