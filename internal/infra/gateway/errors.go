package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"salesmcp/internal/domain"
)

// errorData is carried in the data member of every dispatcher error so that
// clients can branch on a stable code.
type errorData struct {
	Code domain.ErrorCode `json:"code"`
	Op   string           `json:"op,omitempty"`
}

type errorObject struct {
	Code    int64     `json:"code"`
	Message string    `json:"message"`
	Data    errorData `json:"data"`
}

type errorEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      any         `json:"id"`
	Error   errorObject `json:"error"`
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case domain.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.CodeUnavailable, domain.CodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeServerError is the JSON-RPC implementation-defined server error. HTTP
// level rejections use it and carry the precise reason in data.code.
const codeServerError int64 = -32000

func rpcCodeFor(code domain.ErrorCode) int64 {
	switch code {
	case domain.CodeInvalidArgument, domain.CodePayloadTooLarge:
		return jsonrpc.CodeInvalidRequest
	case domain.CodeInternal:
		return jsonrpc.CodeInternalError
	default:
		return codeServerError
	}
}

// writeError answers with a JSON-RPC error envelope and returns the status
// written.
func writeError(w http.ResponseWriter, err error) int {
	code, ok := domain.CodeFrom(err)
	if !ok {
		code = domain.CodeInternal
	}
	var op string
	message := err.Error()
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		op = domainErr.Op
		if domainErr.Message != "" {
			message = domainErr.Message
		}
	}

	status := statusFor(code)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		JSONRPC: "2.0",
		ID:      nil,
		Error: errorObject{
			Code:    rpcCodeFor(code),
			Message: message,
			Data:    errorData{Code: code, Op: op},
		},
	})
	return status
}
