package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/erc7824/nitrolite/walletlink/pairing"
)

const commandTimeout = 30 * time.Second

// Controller is the part of pairing.SessionController the operator drives.
type Controller interface {
	Connect(ctx context.Context, accountOrName, pairingURI string) error
	Logout(ctx context.Context) error
	State() pairing.State
	Subscribe(fn func(pairing.State)) (cancel func())
}

type Operator struct {
	controller Controller
	out        io.Writer

	mu           sync.Mutex
	lastProposal *pairing.TransactionProposal
	lastErr      error
	lastConn     pairing.ConnectionState

	exitCh   chan struct{}
	exitOnce sync.Once
}

func NewOperator(controller Controller) *Operator {
	return newOperator(controller, os.Stdout)
}

func newOperator(controller Controller, out io.Writer) *Operator {
	o := &Operator{
		controller: controller,
		out:        out,
		exitCh:     make(chan struct{}),
	}

	state := controller.State()
	o.lastProposal = state.Proposal
	o.lastErr = state.Err
	o.lastConn = state.Connection
	controller.Subscribe(o.onStateChange)

	return o
}

// onStateChange reports lifecycle changes and new requests as they happen.
func (o *Operator) onStateChange(state pairing.State) {
	o.mu.Lock()
	newProposal := state.Proposal != nil && state.Proposal != o.lastProposal
	newErr := state.Err != nil && state.Err != o.lastErr
	connChanged := state.Connection != o.lastConn
	o.lastProposal = state.Proposal
	o.lastErr = state.Err
	o.lastConn = state.Connection
	o.mu.Unlock()

	if connChanged {
		fmt.Fprintf(o.out, "\nSession %s.\n", state.Connection)
	}
	if newErr {
		fmt.Fprintf(o.out, "\nRelay connection failed: %s\n", state.Err.Error())
	}
	if newProposal {
		fmt.Fprintln(o.out, "\nNew transaction request received:")
		renderProposal(o.out, state.Proposal)
	}
}

func (o *Operator) Complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(o.complete(d), d.GetWordBeforeCursor(), true)
}

func (o *Operator) complete(d prompt.Document) []prompt.Suggest {
	args := strings.Split(d.TextBeforeCursor(), " ")

	if len(args) < 2 {
		return []prompt.Suggest{
			{Text: "connect", Description: "Pair with a wallet: connect <address|ens name> <wc: uri>"},
			{Text: "status", Description: "Show the connection state"},
			{Text: "session", Description: "Show the current pairing session"},
			{Text: "request", Description: "Show the pending transaction request"},
			{Text: "logout", Description: "End the session and forget it"},
			{Text: "exit", Description: "Exit the application"},
		}
	}

	if len(args) < 3 && args[0] == "request" {
		return []prompt.Suggest{
			{Text: "json", Description: "Print the request as JSON"},
		}
	}

	return nil
}

func (o *Operator) Execute(s string) {
	args := strings.Fields(s)
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "connect":
		o.handleConnect(args)
	case "logout":
		o.handleLogout()
	case "status":
		renderStatus(o.out, o.controller.State())
	case "session":
		renderSession(o.out, o.controller.State().Session)
	case "request":
		o.handleRequest(args)
	case "exit":
		fmt.Fprintln(o.out, "Exiting walletlink.")
		o.exitOnce.Do(func() { close(o.exitCh) })
	default:
		fmt.Fprintf(o.out, "Unknown command: %s\n", args[0])
	}
}

func (o *Operator) Wait() <-chan struct{} {
	return o.exitCh
}

func (o *Operator) handleConnect(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(o.out, "Usage: connect <address|ens name> <wc: uri>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := o.controller.Connect(ctx, args[1], args[2]); err != nil {
		fmt.Fprintf(o.out, "Failed to connect: %s\n", err.Error())
		return
	}

	state := o.controller.State()
	switch {
	case state.Address == "":
		fmt.Fprintf(o.out, "Could not resolve %s to an address.\n", args[1])
	case state.Connection == pairing.StateConnected:
		fmt.Fprintf(o.out, "Paired with the wallet for %s.\n", state.Address)
	case state.Connection == pairing.StateConnecting:
		fmt.Fprintf(o.out, "Waiting for the wallet to approve pairing for %s...\n", state.Address)
	default:
		fmt.Fprintf(o.out, "Pairing for %s was abandoned.\n", state.Address)
	}
}

func (o *Operator) handleLogout() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := o.controller.Logout(ctx); err != nil {
		fmt.Fprintf(o.out, "Logout incomplete: %s\n", err.Error())
		return
	}
	fmt.Fprintln(o.out, "Logged out.")
}

func (o *Operator) handleRequest(args []string) {
	proposal := o.controller.State().Proposal
	if len(args) < 2 || proposal == nil {
		renderProposal(o.out, proposal)
		return
	}

	switch args[1] {
	case "json":
		data, err := json.MarshalIndent(proposal, "", "  ")
		if err != nil {
			fmt.Fprintf(o.out, "Failed to encode request: %s\n", err.Error())
			return
		}
		fmt.Fprintln(o.out, string(data))
	default:
		fmt.Fprintf(o.out, "Unknown request format: %s. Use 'json'.\n", args[1])
	}
}
