package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apierrors "github.com/copyleftdev/acctune/internal/errors"
	"github.com/copyleftdev/acctune/internal/tuner"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type runParams struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, apierrors.CodeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, apierrors.CodeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "tuning.start":
		var req TuneRequest
		if err = s.param(request.Params, &req); err == nil {
			result, err = s.start(req)
		}
	case "tuning.status":
		var p runParams
		if err = s.param(request.Params, &p); err == nil {
			result, err = s.status(p.ID)
		}
	case "tuning.cancel":
		var p runParams
		if err = s.param(request.Params, &p); err == nil {
			err = s.cancel(p.ID)
			result = map[string]string{"status": StatusCancelled}
		}
	case "tuning.methods":
		result = tuner.Methods()
	case "tuning.significance":
		var req SignificanceRequest
		if err = s.param(request.Params, &req); err == nil {
			result, err = significance(req)
		}
	default:
		s.respondWithError(w, apierrors.CodeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		e := apierrors.From(err)
		s.respondWithError(w, e.Code, e.Message, request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// param decodes the first positional parameter into v.
func (s *Server) param(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("missing required parameters: %w", apierrors.ErrBadRequest)
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return fmt.Errorf("invalid parameter format: %v: %w", err, apierrors.ErrBadRequest)
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("Request error", zap.Int("code", code), zap.String("message", message))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
