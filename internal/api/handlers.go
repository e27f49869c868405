package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/invocation"
)

const maxOverrideBytes = 1 << 20

type workflowView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Schedule string `json:"schedule,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	views := []workflowView{}
	if s.catalog != nil {
		for _, def := range s.catalog.Definitions() {
			views = append(views, workflowView{Name: def.Name, Kind: def.Kind, Schedule: def.Schedule})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": views})
}

// handleCreateRun 以请求体作为覆盖参数提交一次调用；wait=true 时阻塞到调用结束或超时。
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOverrideBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(invocation.CodeValidation), "请求体读取失败")
		return
	}
	if len(body) > maxOverrideBytes {
		writeError(w, http.StatusRequestEntityTooLarge, string(invocation.CodeValidation), "覆盖参数过大")
		return
	}

	inv, err := s.service.Submit(r.Context(), invocation.Request{
		ID:       r.Header.Get("Idempotency-Key"),
		Workflow: chi.URLParam(r, "name"),
		Trigger:  invocation.TriggerHTTP,
		Override: body,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && !inv.Done() {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.WaitTimeout)
		defer cancel()
		final, waitErr := s.service.WaitUntilCompleted(ctx, inv.ID, s.opts.PollInterval)
		switch {
		case waitErr == nil:
			writeJSON(w, http.StatusOK, final)
			return
		case errors.Is(waitErr, context.DeadlineExceeded) || errors.Is(waitErr, context.Canceled):
			if final != nil {
				inv = final
			}
		default:
			s.writeServiceError(w, waitErr)
			return
		}
	}
	if inv.Done() {
		writeJSON(w, http.StatusOK, inv)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+inv.ID)
	writeJSON(w, http.StatusAccepted, inv)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := []invocation.ListOption{}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "limit 必须是整数")
			return
		}
		opts = append(opts, invocation.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "offset 必须是整数")
			return
		}
		opts = append(opts, invocation.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []invocation.Status
		for _, part := range strings.Split(raw, ",") {
			status := invocation.Status(strings.TrimSpace(part))
			if !invocation.IsValidStatus(status) {
				writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "未知状态: "+part)
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, invocation.WithStatuses(statuses...))
	}
	if wf := q.Get("workflow"); wf != "" {
		opts = append(opts, invocation.WithWorkflow(wf))
	}
	if trig := q.Get("trigger"); trig != "" {
		opts = append(opts, invocation.WithTrigger(invocation.Trigger(trig)))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, invocation.WithSortOrder(invocation.SortByUpdatedAsc))
	}

	list, err := s.service.List(r.Context(), opts...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*invocation.Invocation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": list})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Error("request failed", "error", err, "code", code)
	}
	writeError(w, status, string(code), xerrors.MessageOf(err))
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, invocation.CodeValidation, xerrors.CodeMissingConfiguration:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, invocation.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, invocation.CodeConflict:
		return http.StatusConflict
	case invocation.CodePublish, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
