package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/walletlink/pairing"
)

const selectorLength = 4

var (
	ErrInvalidABI       = errors.New("invalid contract abi")
	ErrNoMatchingMethod = errors.New("no method matches call data")
)

var _ pairing.ABIDecoder = Decoder{}

// Decoder decodes call data with go-ethereum's ABI package.
type Decoder struct{}

func NewDecoder() Decoder {
	return Decoder{}
}

// DecodeCall matches the call's selector against abiJSON and unpacks its inputs.
func (Decoder) DecodeCall(abiJSON json.RawMessage, call pairing.RawCall) (pairing.DecodedCall, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return pairing.DecodedCall{}, fmt.Errorf("%w: %w", ErrInvalidABI, err)
	}

	if len(call.Data) < selectorLength {
		return pairing.DecodedCall{}, fmt.Errorf("%w: call data has %d bytes", ErrNoMatchingMethod, len(call.Data))
	}
	method, err := parsed.MethodById(call.Data[:selectorLength])
	if err != nil {
		return pairing.DecodedCall{}, fmt.Errorf("%w: %w", ErrNoMatchingMethod, err)
	}

	values, err := method.Inputs.Unpack(call.Data[selectorLength:])
	if err != nil {
		return pairing.DecodedCall{}, fmt.Errorf("failed to unpack %s arguments: %w", method.Sig, err)
	}

	args := make([]pairing.Argument, len(method.Inputs))
	for i, input := range method.Inputs {
		args[i] = toArgument(input.Name, input.Type, values[i])
	}

	value := "0"
	if call.Value != nil {
		value = call.Value.String()
	}

	return pairing.DecodedCall{
		Signature: method.Sig,
		Name:      method.RawName,
		Selector:  hexutil.Encode(method.ID),
		Args:      args,
		Value:     value,
	}, nil
}

// toArgument converts an unpacked value of type typ into a tagged argument.
func toArgument(name string, typ abi.Type, v any) pairing.Argument {
	arg := pairing.Argument{Name: name, Type: typ.String()}

	switch typ.T {
	case abi.AddressTy:
		arg.Kind = pairing.KindAddress
		if addr, ok := v.(common.Address); ok {
			arg.Value = addr.Hex()
		}
	case abi.IntTy:
		arg.Kind = pairing.KindInt
		arg.Value = fmt.Sprintf("%d", v)
	case abi.UintTy:
		arg.Kind = pairing.KindUint
		arg.Value = fmt.Sprintf("%d", v)
	case abi.BoolTy:
		arg.Kind = pairing.KindBool
		arg.Value = fmt.Sprint(v)
	case abi.StringTy:
		arg.Kind = pairing.KindString
		arg.Value = fmt.Sprint(v)
	case abi.BytesTy:
		arg.Kind = pairing.KindBytes
		if b, ok := v.([]byte); ok {
			arg.Value = hexutil.Encode(b)
		}
	case abi.FixedBytesTy:
		arg.Kind = pairing.KindFixedBytes
		arg.Value = hexutil.Encode(arrayBytes(v))
	case abi.FunctionTy:
		arg.Kind = pairing.KindFunction
		arg.Value = hexutil.Encode(arrayBytes(v))
	case abi.SliceTy, abi.ArrayTy:
		arg.Kind = pairing.KindArray
		rv := reflect.ValueOf(v)
		arg.Elements = make([]pairing.Argument, rv.Len())
		for i := range rv.Len() {
			arg.Elements[i] = toArgument("", *typ.Elem, rv.Index(i).Interface())
		}
	case abi.TupleTy:
		arg.Kind = pairing.KindTuple
		rv := reflect.Indirect(reflect.ValueOf(v))
		arg.Elements = make([]pairing.Argument, len(typ.TupleElems))
		for i, elem := range typ.TupleElems {
			arg.Elements[i] = toArgument(typ.TupleRawNames[i], *elem, rv.Field(i).Interface())
		}
	default:
		arg.Kind = pairing.KindOther
		arg.Value = fmt.Sprint(v)
	}

	return arg
}

// arrayBytes copies a fixed-size byte array such as [32]byte into a slice.
func arrayBytes(v any) []byte {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array {
		return nil
	}

	b := make([]byte, rv.Len())
	for i := range b {
		b[i] = byte(rv.Index(i).Uint())
	}
	return b
}
