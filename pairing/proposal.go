package pairing

import (
	"encoding/json"
	"math/big"
)

// ProposalType discriminates how a proposal was built.
type ProposalType string

const (
	ProposalTransactionRequest  ProposalType = "transactionRequest"
	ProposalTransferFunds       ProposalType = "transferFunds"
	ProposalContractInteraction ProposalType = "contractInteraction"
)

// ArgumentKind tags the value held by an Argument.
type ArgumentKind string

const (
	KindAddress    ArgumentKind = "address"
	KindInt        ArgumentKind = "int"
	KindUint       ArgumentKind = "uint"
	KindBool       ArgumentKind = "bool"
	KindString     ArgumentKind = "string"
	KindBytes      ArgumentKind = "bytes"
	KindFixedBytes ArgumentKind = "fixedBytes"
	KindArray      ArgumentKind = "array"
	KindTuple      ArgumentKind = "tuple"
	KindFunction   ArgumentKind = "function"
	KindOther      ArgumentKind = "other"
)

// Argument is one decoded call argument.
//
// Scalars carry their canonical text in Value: checksummed addresses, base-10
// integers, 0x-hex bytes, "true"/"false" and raw strings. Arrays and tuples carry
// their members in Elements instead.
type Argument struct {
	Name     string       `json:"name,omitempty"`
	Type     string       `json:"type"`
	Kind     ArgumentKind `json:"kind"`
	Value    string       `json:"value,omitempty"`
	Elements []Argument   `json:"elements,omitempty"`
}

// RawCall is the call handed to an ABIDecoder.
type RawCall struct {
	To    string
	Value *big.Int
	Data  []byte
}

// DecodedCall is what an ABIDecoder reports for a matched function.
type DecodedCall struct {
	Signature string     `json:"signature"`
	Name      string     `json:"name"`
	Selector  string     `json:"selector"`
	Args      []Argument `json:"args"`
	Value     string     `json:"value"`
}

// Provenance keeps the inputs a proposal was built from.
type Provenance struct {
	Call IncomingCall `json:"call"`
	Tx   DecodedCall  `json:"tx"`
}

// ProposalForm is the projection bound to the review form.
type ProposalForm struct {
	ABI       json.RawMessage `json:"abi"`
	Recipient string          `json:"recipient"`
	Method    string          `json:"method"`
	Args      []Argument      `json:"args"`
	Amount    string          `json:"amount"`
}

// TransactionProposal is a decoded, review-ready transaction request.
// A nil *TransactionProposal means no request is pending.
type TransactionProposal struct {
	To         string       `json:"to"`
	Type       ProposalType `json:"_type"`
	Value      string       `json:"value"`
	Method     string       `json:"method"`
	Params     []Argument   `json:"params"`
	Operation  int          `json:"operation"`
	Provenance Provenance   `json:"_data"`
	Form       ProposalForm `json:"_form"`
	Data       string       `json:"data"`
}
