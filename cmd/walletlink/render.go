package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/erc7824/nitrolite/walletlink/pairing"
)

func renderStatus(w io.Writer, state pairing.State) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendSeparator()

	t.AppendRow(table.Row{"State", state.Connection})
	t.AppendRow(table.Row{"Address", orNA(state.Address)})
	t.AppendRow(table.Row{"Loading", state.Loading})
	t.AppendRow(table.Row{"Connected", state.Connected})
	if state.Err != nil {
		t.AppendRow(table.Row{"Last error", state.Err.Error()})
	}
	pending := "none"
	if state.Proposal != nil {
		pending = state.Proposal.Method
	}
	t.AppendRow(table.Row{"Pending request", pending})
	t.Render()
}

func renderSession(w io.Writer, session pairing.Session) {
	if session.IsZero() {
		fmt.Fprintln(w, "No active session.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendSeparator()

	t.AppendRow(table.Row{"Accounts", orNA(strings.Join(session.Accounts, ", "))})
	t.AppendRow(table.Row{"Chain ID", session.ChainID})
	t.AppendRow(table.Row{"Bridge", session.Bridge})
	t.AppendRow(table.Row{"Client ID", session.ClientID})
	t.AppendRow(table.Row{"Peer", orNA(session.PeerMeta.Name)})
	t.AppendRow(table.Row{"Peer URL", orNA(session.PeerMeta.URL)})
	t.AppendRow(table.Row{"Peer ID", orNA(session.PeerID)})
	t.AppendRow(table.Row{"Handshake topic", session.HandshakeTopic})
	t.AppendRow(table.Row{"Connected", session.Connected})
	t.Render()
}

func renderProposal(w io.Writer, proposal *pairing.TransactionProposal) {
	if proposal == nil {
		fmt.Fprintln(w, "No pending transaction request.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Transaction request")
	t.AppendRow(table.Row{"To", proposal.To})
	t.AppendRow(table.Row{"Method", proposal.Method})
	t.AppendRow(table.Row{"Value (ETH)", proposal.Value})
	t.AppendRow(table.Row{"Signature", orNA(proposal.Provenance.Tx.Signature)})
	t.AppendRow(table.Row{"Data", proposal.Data})
	t.Render()

	if len(proposal.Params) == 0 {
		return
	}

	args := table.NewWriter()
	args.SetOutputMirror(w)
	args.AppendHeader(table.Row{"#", "Name", "Type", "Value"})
	args.AppendSeparator()
	for i, arg := range proposal.Params {
		appendArgument(args, fmt.Sprint(i), arg, 0)
	}
	args.Render()
}

// appendArgument adds arg and, indented below it, its elements.
func appendArgument(t table.Writer, index string, arg pairing.Argument, depth int) {
	name := strings.Repeat("  ", depth) + orNA(arg.Name)
	value := arg.Value
	if arg.Kind == pairing.KindArray || arg.Kind == pairing.KindTuple {
		value = fmt.Sprintf("%s of %d", arg.Kind, len(arg.Elements))
	}
	t.AppendRow(table.Row{index, name, arg.Type, value})

	for i, elem := range arg.Elements {
		appendArgument(t, fmt.Sprintf("%s.%d", index, i), elem, depth+1)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
