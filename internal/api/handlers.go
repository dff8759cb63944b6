// Package api provides the HTTP API used by the mobile app.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/s7"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/pkg/logging"
	"github.com/rs/zerolog"
)

// ServiceName is reported by the API health endpoint.
const ServiceName = "PLC Communication Server"

// Session is the PLC session the API drives.
type Session interface {
	Configure(host string, rack, slot int)
	Connect(ctx context.Context) (domain.SessionStatus, error)
	Disconnect() domain.SessionStatus
	Status() domain.SessionStatus
	Stats() s7.Stats

	ReadDBReal(ctx context.Context, dbNumber, offset int) (float32, error)
	ReadDBInt(ctx context.Context, dbNumber, offset int) (int16, error)
	ReadDBBool(ctx context.Context, dbNumber, offset, bit int) (bool, error)
	ReadMBit(ctx context.Context, offset, bit int) (bool, error)
	WriteMBitValue(ctx context.Context, offset, bit int, value interface{}) error
	ReadDB(ctx context.Context, typeName string, dbNumber, offset, bit int) (interface{}, error)
	WriteDB(ctx context.Context, typeName string, dbNumber, offset, bit int, value interface{}) error
	WriteTyped(ctx context.Context, kind domain.ValueKind, dbNumber, offset, bit int, value interface{}) error
	ReadNamedArea(ctx context.Context, token string, dbNumber, start, size int) ([]byte, error)
	WriteNamedArea(ctx context.Context, token string, dbNumber, start int, data []byte) error
	ReadSymbol(ctx context.Context, symbol string) (interface{}, error)
	WriteSymbol(ctx context.Context, symbol string, value interface{}) error
	Reject(op, access string, err error) error
}

// =============================================================================
// Request / Response Types
// =============================================================================

type connectRequest struct {
	IP   string `json:"ip"`
	Rack int    `json:"rack"`
	Slot int    `json:"slot"`
}

type valueRequest struct {
	DBNumber int         `json:"db_number"`
	Offset   int         `json:"offset"`
	Value    interface{} `json:"value"`
}

type bitRequest struct {
	DBNumber   int         `json:"db_number"`
	ByteOffset int         `json:"byte_offset"`
	BitOffset  int         `json:"bit_offset"`
	Value      interface{} `json:"value"`
}

type typedRequest struct {
	Type       string      `json:"type"`
	DBNumber   int         `json:"db_number"`
	ByteOffset int         `json:"byte_offset"`
	BitOffset  int         `json:"bit_offset"`
	Value      interface{} `json:"value"`
}

type areaRequest struct {
	Area     string `json:"area"`
	DBNumber int    `json:"db_number"`
	Start    int    `json:"start"`
	Size     int    `json:"size"`
	Data     string `json:"data"`
}

type tagRequest struct {
	Address string      `json:"address"`
	Value   interface{} `json:"value"`
}

// SessionResponse is returned by connect and disconnect.
type SessionResponse struct {
	Success bool                 `json:"success"`
	Status  domain.SessionStatus `json:"status"`
	Error   string               `json:"error,omitempty"`
}

// ValueResponse is returned by successful reads.
type ValueResponse struct {
	Success bool        `json:"success"`
	Value   interface{} `json:"value"`
}

// AreaResponse is returned by raw area reads. Data is base64 encoded.
type AreaResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
	Size    int    `json:"size"`
}

// ErrorResponse is returned by every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// =============================================================================
// Handlers
// =============================================================================

type handlers struct {
	session  Session
	defaults domain.Target
	logger   zerolog.Logger
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Stats())
}

func (h *handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	req := connectRequest{IP: h.defaults.Host, Rack: h.defaults.Rack, Slot: h.defaults.Slot}
	if !h.decode(w, r, &req) {
		return
	}

	h.session.Configure(req.IP, req.Rack, req.Slot)
	status, err := h.session.Connect(r.Context())
	resp := SessionResponse{Success: err == nil, Status: status}
	if err != nil {
		resp.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, SessionResponse{Success: true, Status: h.session.Disconnect()})
}

func (h *handlers) handleReadDBReal(w http.ResponseWriter, r *http.Request) {
	req := valueRequest{DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadDBReal(r.Context(), req.DBNumber, req.Offset)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteDBReal(w http.ResponseWriter, r *http.Request) {
	req := valueRequest{DBNumber: 1, Value: 0.0}
	if !h.decode(w, r, &req) {
		return
	}
	err := h.session.WriteTyped(r.Context(), domain.KindReal, req.DBNumber, req.Offset, domain.NoBit, req.Value)
	h.writeOK(w, r, err)
}

func (h *handlers) handleReadDBInt(w http.ResponseWriter, r *http.Request) {
	req := valueRequest{DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadDBInt(r.Context(), req.DBNumber, req.Offset)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteDBInt(w http.ResponseWriter, r *http.Request) {
	req := valueRequest{DBNumber: 1, Value: 0}
	if !h.decode(w, r, &req) {
		return
	}
	err := h.session.WriteTyped(r.Context(), domain.KindInt, req.DBNumber, req.Offset, domain.NoBit, req.Value)
	h.writeOK(w, r, err)
}

func (h *handlers) handleReadDBBool(w http.ResponseWriter, r *http.Request) {
	req := bitRequest{DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadDBBool(r.Context(), req.DBNumber, req.ByteOffset, req.BitOffset)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteDBBool(w http.ResponseWriter, r *http.Request) {
	req := bitRequest{DBNumber: 1, Value: false}
	if !h.decode(w, r, &req) {
		return
	}
	err := h.session.WriteTyped(r.Context(), domain.KindBool, req.DBNumber, req.ByteOffset, req.BitOffset, req.Value)
	h.writeOK(w, r, err)
}

func (h *handlers) handleReadMBit(w http.ResponseWriter, r *http.Request) {
	var req bitRequest
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadMBit(r.Context(), req.ByteOffset, req.BitOffset)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteMBit(w http.ResponseWriter, r *http.Request) {
	req := bitRequest{Value: false}
	if !h.decode(w, r, &req) {
		return
	}
	h.writeOK(w, r, h.session.WriteMBitValue(r.Context(), req.ByteOffset, req.BitOffset, req.Value))
}

func (h *handlers) handleReadTyped(w http.ResponseWriter, r *http.Request) {
	req := typedRequest{Type: "real", DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadDB(r.Context(), req.Type, req.DBNumber, req.ByteOffset, req.BitOffset)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteTyped(w http.ResponseWriter, r *http.Request) {
	req := typedRequest{Type: "real", DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	h.writeOK(w, r, h.session.WriteDB(r.Context(), req.Type, req.DBNumber, req.ByteOffset, req.BitOffset, req.Value))
}

func (h *handlers) handleReadArea(w http.ResponseWriter, r *http.Request) {
	req := areaRequest{Area: "DB", DBNumber: 1, Size: 1}
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.session.ReadNamedArea(r.Context(), req.Area, req.DBNumber, req.Start, req.Size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AreaResponse{
		Success: true,
		Data:    base64.StdEncoding.EncodeToString(data),
		Size:    len(data),
	})
}

func (h *handlers) handleWriteArea(w http.ResponseWriter, r *http.Request) {
	req := areaRequest{Area: "DB", DBNumber: 1}
	if !h.decode(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		err = fmt.Errorf("%w: data is not valid base64: %v", domain.ErrInvalidWriteValue, err)
		h.writeError(w, r, h.session.Reject(domain.OpWrite, strings.ToUpper(req.Area)+" area", err))
		return
	}
	h.writeOK(w, r, h.session.WriteNamedArea(r.Context(), req.Area, req.DBNumber, req.Start, data))
}

func (h *handlers) handleReadTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !h.decode(w, r, &req) {
		return
	}
	value, err := h.session.ReadSymbol(r.Context(), req.Address)
	h.writeValue(w, r, value, err)
}

func (h *handlers) handleWriteTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeOK(w, r, h.session.WriteSymbol(r.Context(), req.Address, req.Value))
}

// =============================================================================
// Helpers
// =============================================================================

// decode reads the JSON body into v, which carries the defaults for absent
// fields. An empty body keeps every default.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeError(w, r, fmt.Errorf("invalid request body: %w", err))
	return false
}

func (h *handlers) writeValue(w http.ResponseWriter, r *http.Request, value interface{}, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ValueResponse{Success: true, Value: value})
}

func (h *handlers) writeOK(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context(), h.logger)
	logger.Debug().Err(err).Str("error_kind", domain.ErrorKind(err)).Msg("Request failed")
	h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
