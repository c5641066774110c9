package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

func (s *Server) handleListMethods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"methods": s.registry.Methods()})
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.registry.Pending()})
}

// rpcStatus maps RPC error codes to HTTP statuses.
var rpcStatus = map[string]int{
	rpc.CodeUnknownMethod:  http.StatusNotFound,
	rpc.CodeInvalidRequest: http.StatusBadRequest,
	rpc.CodeTimeout:        http.StatusGatewayTimeout,
	rpc.CodeHandlerError:   http.StatusInternalServerError,
}

// handleInvoke runs a method locally with the request body as its params.
// The result is returned to the caller and never published.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	var params json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			writeBadRequest(w, "request body must be JSON")
			return
		}
		params = body
	}

	requestID, result, err := s.gateway.Invoke(r.Context(), method, params)
	s.logger.Info("rpc invoked via API",
		"method", method, "request_id", requestID, "subject", subject(r), "error", err)

	if err != nil {
		payload := rpc.ErrorPayload(err)
		code, _ := payload["error"].(string)
		status, ok := rpcStatus[code]
		if !ok {
			status = http.StatusInternalServerError
		}
		if errors.Is(err, rpc.ErrDuplicateRequest) {
			status = http.StatusConflict
		}
		payload["request_id"] = requestID
		writeJSON(w, status, payload)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "result": result})
}
