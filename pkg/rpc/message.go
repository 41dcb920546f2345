package rpc

// Request is a client frame: {"req": [id, method, params, ts]}.
type Request struct {
	Req Payload `json:"req"`
}

func NewRequest(payload Payload) Request {
	return Request{Req: payload}
}

// Response is a relay frame: {"res": [id, method, params, ts]}.
// Responses whose RequestID matches no pending call are relay events.
type Response struct {
	Res Payload `json:"res"`
}

func NewResponse(payload Payload) Response {
	return Response{Res: payload}
}

// NewErrorResponse builds a response carrying only an error message.
func NewErrorResponse(requestID uint64, errMsg string) Response {
	return NewResponse(NewPayload(requestID, string(ErrorMethod), NewErrorParams(errMsg)))
}
