package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/vm"
)

// Arg is the JSON form of a value sent into the VM. Exactly one field is
// set; an empty Arg is nil.
type Arg struct {
	Handle string   `json:"handle,omitempty"`
	Global string   `json:"global,omitempty"`
	Int    *int64   `json:"int,omitempty"`
	Float  *float64 `json:"float,omitempty"`
	String *string  `json:"string,omitempty"`
	Symbol *string  `json:"symbol,omitempty"`
	Char   *string  `json:"char,omitempty"`
	Bool   *bool    `json:"bool,omitempty"`
}

// Object describes a value behind a handle.
type Object struct {
	ID       string   `json:"id"`
	Class    string   `json:"class"`
	Print    string   `json:"print"`
	Size     int      `json:"size"`
	InstVars []string `json:"instVars,omitempty"`
}

// EvalRequest is the body of POST /v1/eval.
type EvalRequest struct {
	Source string `json:"source"`
}

// SendRequest is the body of POST /v1/send.
type SendRequest struct {
	Receiver Arg    `json:"receiver"`
	Selector string `json:"selector"`
	Args     []Arg  `json:"args,omitempty"`
}

type errorBody struct {
	Error       string   `json:"error"`
	Class       string   `json:"class,omitempty"`
	MessageText string   `json:"messageText,omitempty"`
	Messages    []string `json:"messages,omitempty"`
	Trace       []string `json:"trace,omitempty"`
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &statusError{http.StatusBadRequest, fmt.Errorf(format, args...)}
}

func notFound(id string) error {
	return &statusError{http.StatusNotFound, fmt.Errorf("no handle %s", id)}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	image, err := s.worker.Do(func(v *vm.VM) (any, error) { return v.ImageID, nil })
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"image":       image,
		"handles":     s.handles.Len(),
		"subscribers": s.transcript.Subscribers(),
	})
}

func (s *Server) eval(w http.ResponseWriter, r *http.Request) {
	var req EvalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Source == "" {
		writeError(w, badRequest("source is required"))
		return
	}
	ctx := r.Context()
	s.respond(w, http.StatusOK, func(v *vm.VM) (any, error) {
		value, err := compiler.Evaluate(ctx, v, req.Source)
		if err != nil {
			return nil, err
		}
		return s.newObject(ctx, v, value), nil
	})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Selector == "" {
		writeError(w, badRequest("selector is required"))
		return
	}
	if n := vm.SelectorArity(req.Selector); n != len(req.Args) {
		writeError(w, badRequest("%s takes %d arguments, got %d", req.Selector, n, len(req.Args)))
		return
	}
	ctx := r.Context()
	s.respond(w, http.StatusOK, func(v *vm.VM) (any, error) {
		rcvr, err := s.resolve(v, req.Receiver)
		if err != nil {
			return nil, err
		}
		args := make([]vm.Value, len(req.Args))
		for i, a := range req.Args {
			if args[i], err = s.resolve(v, a); err != nil {
				return nil, err
			}
		}
		value, err := v.Send(ctx, rcvr, req.Selector, args...)
		if err != nil {
			return nil, err
		}
		return s.newObject(ctx, v, value), nil
	})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	s.respond(w, http.StatusOK, func(v *vm.VM) (any, error) {
		value, ok := s.handles.Lookup(id)
		if !ok {
			return nil, notFound(id)
		}
		return s.describe(ctx, v, id, value), nil
	})
}

func (s *Server) releaseObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.respond(w, http.StatusNoContent, func(v *vm.VM) (any, error) {
		if !s.handles.Release(v, id) {
			return nil, notFound(id)
		}
		return nil, nil
	})
}

func (s *Server) getSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := slotIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	s.respond(w, http.StatusOK, func(v *vm.VM) (any, error) {
		obj, ok := s.handles.Lookup(id)
		if !ok {
			return nil, notFound(id)
		}
		value, err := slotAt(v.Memory, obj, index)
		if err != nil {
			return nil, err
		}
		return s.newObject(ctx, v, value), nil
	})
}

func (s *Server) putSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := slotIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var arg Arg
	if err := decode(r, &arg); err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, http.StatusNoContent, func(v *vm.VM) (any, error) {
		obj, ok := s.handles.Lookup(id)
		if !ok {
			return nil, notFound(id)
		}
		value, err := s.resolve(v, arg)
		if err != nil {
			return nil, err
		}
		return nil, slotAtPut(v.Memory, obj, index, value)
	})
}

// respond runs fn on the worker and writes its answer with status.
func (s *Server) respond(w http.ResponseWriter, status int, fn func(*vm.VM) (any, error)) {
	body, err := s.worker.Do(fn)
	if err != nil {
		writeError(w, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// newObject registers value under a fresh handle and describes it.
func (s *Server) newObject(ctx context.Context, v *vm.VM, value vm.Value) Object {
	return s.describe(ctx, v, s.handles.Create(v, value), value)
}

func (s *Server) describe(ctx context.Context, v *vm.VM, id string, value vm.Value) Object {
	class := v.Memory.ClassOf(value)
	printed, err := v.PrintString(ctx, value)
	if err != nil {
		printed = v.Describe(value)
	}
	obj := Object{
		ID:    id,
		Print: printed,
		Size:  v.Memory.IndexedSize(value),
	}
	if class != nil {
		obj.Class = class.DisplayName()
		if value.IsObject() {
			obj.InstVars = class.AllInstVarNames()
		}
	}
	return obj
}

// resolve turns an Arg into a VM value.
func (s *Server) resolve(v *vm.VM, a Arg) (vm.Value, error) {
	mem := v.Memory
	switch {
	case a.Handle != "":
		value, ok := s.handles.Lookup(a.Handle)
		if !ok {
			return vm.Nil, notFound(a.Handle)
		}
		return value, nil
	case a.Global != "":
		value, ok := v.Global(a.Global)
		if !ok {
			return vm.Nil, &statusError{http.StatusNotFound, fmt.Errorf("no global %s", a.Global)}
		}
		return value, nil
	case a.Int != nil:
		return mem.NewInteger(*a.Int), nil
	case a.Float != nil:
		return mem.NewFloat(*a.Float), nil
	case a.String != nil:
		return mem.NewString(*a.String), nil
	case a.Symbol != nil:
		return mem.Intern(*a.Symbol), nil
	case a.Char != nil:
		r, size := utf8.DecodeRuneInString(*a.Char)
		if size == 0 || size != len(*a.Char) {
			return vm.Nil, badRequest("char must be a single character, got %q", *a.Char)
		}
		return vm.FromChar(r), nil
	case a.Bool != nil:
		return vm.FromBool(*a.Bool), nil
	}
	return vm.Nil, nil
}

func slotIndex(r *http.Request) (int, error) {
	s := chi.URLParam(r, "index")
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 {
		return 0, badRequest("slot index must be a positive integer, got %q", s)
	}
	return i, nil
}

// slotAt reads slot i of a pointer object, or indexed element i of any
// other object.
func slotAt(mem *vm.Memory, obj vm.Value, i int) (vm.Value, error) {
	if mem.Pointers(obj) != nil {
		return mem.InstVarAt(obj, i)
	}
	return mem.BasicAt(obj, i)
}

func slotAtPut(mem *vm.Memory, obj vm.Value, i int, value vm.Value) error {
	if mem.Pointers(obj) != nil {
		return mem.InstVarAtPut(obj, i, value)
	}
	if mem.Bytes(obj) != nil && mem.SymbolName(obj) != "" {
		return vm.ErrImmutable
	}
	return mem.BasicAtPut(obj, i, value)
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func decode(r *http.Request, into any) error {
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(into); err != nil {
		return badRequest("malformed request body: %s", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warningf("writing response: %s", err)
	}
}

// writeError maps an error to a status code and a JSON body.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var se *statusError
	var ce *vm.CompileError
	var ue *vm.UnhandledError
	switch {
	case errors.As(err, &se):
		status = se.code
	case errors.As(err, &ce):
		status = http.StatusBadRequest
		body.Class = ce.Class
		body.Messages = ce.Messages
	case errors.As(err, &ue):
		status = http.StatusUnprocessableEntity
		body.Class = ue.ClassName
		body.MessageText = ue.MessageText
		body.Trace = ue.Trace
	case errors.Is(err, vm.ErrIndexOutOfBounds),
		errors.Is(err, vm.ErrNotIndexable),
		errors.Is(err, vm.ErrWrongKind),
		errors.Is(err, vm.ErrNotAnObject),
		errors.Is(err, vm.ErrImmutable):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, errStopped):
		status = http.StatusServiceUnavailable
	default:
		log.Errorf("%s", err)
	}
	writeJSON(w, status, body)
}
