// Package errors provides the coded error type shared by the render pipeline,
// the worker and the HTTP API. Codes classify failures (invalid scene,
// provisioning, rendering, encoding) so callers can decide between retrying,
// failing the job and choosing an HTTP status.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code classifies an error.
type Code string

const (
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeUnavailable Code = "UNAVAILABLE"

	// CodeInvalidScene marks malformed or inconsistent scene input. Never retried.
	CodeInvalidScene Code = "INVALID_SCENE"
	// CodeProvision marks a renderer instance that could not be created.
	CodeProvision Code = "PROVISION_FAILED"
	// CodeRender marks a frame that could not be rendered.
	CodeRender Code = "RENDER_FAILED"
	// CodeEncode marks a sink that could not write or finalize the output.
	CodeEncode Code = "ENCODE_FAILED"
	// CodeCanceled marks a job stopped by its caller.
	CodeCanceled Code = "CANCELED"
)

// StatusClientClosed is answered for canceled work (nginx convention).
const StatusClientClosed = 499

var statusByCode = map[Code]int{
	CodeValidation:   http.StatusBadRequest,
	CodeInvalidScene: http.StatusBadRequest,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeCanceled:     StatusClientClosed,
	CodeProvision:    http.StatusBadGateway,
	CodeRender:       http.StatusBadGateway,
	CodeUnavailable:  http.StatusServiceUnavailable,
}

const maxFrames = 10

// Error carries a code, the failing operation and structured fields on top of
// an optional cause.
type Error struct {
	Code    Code
	Message string
	// Op names the failing operation, e.g. "pool.acquire".
	Op     string
	Err    error
	Fields map[string]any
	// Stack is captured where the error was built.
	Stack []Frame
}

// Frame is one captured call site.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	s := e.Message
	if e.Code != "" {
		s = "[" + string(e.Code) + "] " + s
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithField sets a context field and returns e.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

// WithFields merges fields into e.
func (e *Error) WithFields(fields map[string]any) *Error {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// HTTPStatus is the status the API answers with for e.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// StackTrace formats Stack one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// build is the single constructor; skip counts frames above the exported
// helper that called it.
func build(code Code, op, msg string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: msg, Err: cause, Stack: captureStack(3)}
}

// New creates an error with no cause.
func New(code Code, message string) *Error {
	return build(code, "", message, nil)
}

func Newf(code Code, format string, args ...any) *Error {
	return build(code, "", fmt.Sprintf(format, args...), nil)
}

// Wrap adds op and message to err. A wrapped *Error keeps its code and
// fields; any other cause becomes CodeInternal.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if !errors.As(err, &inner) {
		return build(CodeInternal, op, message, err)
	}
	e := build(inner.Code, op, message, err)
	e.Fields = inner.Fields
	return e
}

// WrapWithCode wraps err under an explicit code.
func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, op, message, err)
}

// NotFound reports a missing resource such as a render job or a saved scene.
func NotFound(resource, id string) *Error {
	return build(CodeNotFound, "", resource+" not found: "+id, nil).
		WithFields(map[string]any{"resource": resource, "id": id})
}

// ValidationField reports a bad request parameter.
func ValidationField(field, message string) *Error {
	return build(CodeValidation, "", message, nil).WithField("field", field)
}

func InvalidScene(format string, args ...any) *Error {
	return build(CodeInvalidScene, "scene.parse", fmt.Sprintf(format, args...), nil)
}

// InvalidSceneField reports a scene problem at a JSON path such as
// "elements[2].duration". The path is both prefixed to the message and kept
// as the "field" field.
func InvalidSceneField(path, format string, args ...any) *Error {
	return build(CodeInvalidScene, "scene.parse", path+": "+fmt.Sprintf(format, args...), nil).
		WithField("field", path)
}

// Provision wraps a renderer instance creation failure.
func Provision(err error) *Error {
	return build(CodeProvision, "pool.acquire", "instance provisioning failed", err)
}

// Render wraps the last failure of a frame that ran out of attempts.
func Render(index int, err error) *Error {
	return build(CodeRender, "scheduler.render", fmt.Sprintf("frame %d failed to render", index), err).
		WithField("frame", index)
}

// Encode wraps a sink failure.
func Encode(err error) *Error {
	return build(CodeEncode, "encoder", "encoding failed", err)
}

// Canceled wraps a context error; errors.Is(err, context.Canceled) still
// holds for the result.
func Canceled(err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return build(CodeCanceled, "pipeline", "job canceled", err)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode returns the code of the outermost *Error in err's chain, or
// CodeInternal.
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	if e, ok := asError(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	if e, ok := asError(err); ok {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool { return err != nil && GetCode(err) == code }

func IsValidation(err error) bool   { return IsCode(err, CodeValidation) }
func IsInvalidScene(err error) bool { return IsCode(err, CodeInvalidScene) }
func IsProvision(err error) bool    { return IsCode(err, CodeProvision) }
func IsRender(err error) bool       { return IsCode(err, CodeRender) }
func IsEncode(err error) bool       { return IsCode(err, CodeEncode) }
func IsCanceled(err error) bool     { return IsCode(err, CodeCanceled) }

func captureStack(skip int) []Frame {
	pcs := make([]uintptr, 32)
	pcs = pcs[:runtime.Callers(skip+1, pcs)]

	out := make([]Frame, 0, maxFrames)
	frames := runtime.CallersFrames(pcs)
	for len(out) < maxFrames {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return out
}

// As, Is and Join forward to the standard library so callers need only this
// package.
func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
