package pairing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

const tracerName = "walletlink/pairing"

// CallDecoder turns incoming calls into transaction proposals. It keeps no
// per-call state and is safe for concurrent use.
type CallDecoder struct {
	registry ABIRegistry
	decoder  ABIDecoder
	validate *validator.Validate
	logger   log.Logger
	tracer   trace.Tracer
}

func NewCallDecoder(registry ABIRegistry, decoder ABIDecoder, logger log.Logger) *CallDecoder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &CallDecoder{
		registry: registry,
		decoder:  decoder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithName("call-decoder"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Decode returns nil, nil for any method other than eth_sendTransaction.
// Failures are returned as *CallDecodeError.
func (d *CallDecoder) Decode(ctx context.Context, call IncomingCall) (*TransactionProposal, error) {
	if call.Method != MethodSendTransaction {
		return nil, nil
	}

	ctx, span := d.tracer.Start(ctx, "DecodeCall", trace.WithAttributes(
		attribute.String("rpc.method", call.Method),
		attribute.Int64("rpc.id", int64(call.ID)),
	))
	defer span.End()

	ctx = log.SetContextLogger(ctx, d.logger.WithKV("callID", call.ID))
	proposal, err := d.decode(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("call.signature", proposal.Method))
	return proposal, nil
}

func (d *CallDecoder) decode(ctx context.Context, call IncomingCall) (*TransactionProposal, error) {
	logger := log.FromContext(ctx)

	params, err := d.txParams(call)
	if err != nil {
		return nil, decodeErr(StepParams, err)
	}
	value, err := ParseValue(params.Value)
	if err != nil {
		return nil, decodeErr(StepParams, err)
	}
	var data []byte
	if params.Data != "" {
		if data, err = hexutil.Decode(params.Data); err != nil {
			return nil, decodeErr(StepParams, fmt.Errorf("invalid call data: %w", err))
		}
	}

	logger.Debug("resolving contract abi", "to", params.To)
	abi, err := d.registry.ContractABI(ctx, params.To)
	if err != nil {
		return nil, decodeErr(StepResolveABI, err)
	}
	if err := checkABI(abi); err != nil {
		return nil, decodeErr(StepResolveABI, err)
	}

	tx, err := d.decoder.DecodeCall(abi, RawCall{To: params.To, Value: value, Data: data})
	if err != nil {
		return nil, decodeErr(StepDecodeCall, err)
	}
	if tx.Args == nil {
		tx.Args = []Argument{}
	}

	amount := FormatEther(value)
	logger.Debug("call decoded", "signature", tx.Signature, "amount", amount)

	return &TransactionProposal{
		To:        params.To,
		Type:      ProposalTransactionRequest,
		Value:     amount,
		Method:    tx.Signature,
		Params:    tx.Args,
		Operation: 0,
		Provenance: Provenance{
			Call: call,
			Tx:   tx,
		},
		Form: ProposalForm{
			ABI:       abi,
			Recipient: params.To,
			Method:    tx.Name,
			Args:      tx.Args,
			Amount:    amount,
		},
		Data: "",
	}, nil
}

func (d *CallDecoder) txParams(call IncomingCall) (RawTransactionParams, error) {
	if len(call.Params) == 0 {
		return RawTransactionParams{}, ErrMissingTxParams
	}

	var params RawTransactionParams
	if err := json.Unmarshal(call.Params[0], &params); err != nil {
		return RawTransactionParams{}, fmt.Errorf("malformed transaction params: %w", err)
	}
	if err := d.validate.Struct(params); err != nil {
		return RawTransactionParams{}, fmt.Errorf("invalid transaction params: %w", err)
	}
	return params, nil
}

// checkABI accepts only a non-empty JSON array.
func checkABI(abi json.RawMessage) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(abi, &entries); err != nil {
		return fmt.Errorf("malformed contract abi: %w", err)
	}
	if len(entries) == 0 {
		return ErrEmptyABI
	}
	return nil
}
