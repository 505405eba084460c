package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

// Sender issues one controller request and returns the normalized envelope.
// Implementations must not retry; the wait loops own retry cadence.
type Sender interface {
	Send(ctx context.Context, verb, path string, body any) (*Response, error)
}

// Response is the normalized envelope returned for every controller call.
type Response struct {
	ReturnCode  int             `json:"RETURN_CODE"`
	Method      string          `json:"METHOD"`
	RequestPath string          `json:"REQUEST_PATH"`
	Message     string          `json:"MESSAGE"`
	Data        json.RawMessage `json:"DATA"`
}

// Result summarizes a response the way callers consume it.
type Result struct {
	Found   bool
	Success bool
	Changed bool
}

// Result interprets the envelope for the given verb.
func (r *Response) Result(verb string) Result {
	if r == nil {
		return Result{}
	}
	if strings.EqualFold(verb, http.MethodGet) {
		found := r.ReturnCode == http.StatusOK && !strings.Contains(r.Message, "Not Found")
		success := r.ReturnCode == http.StatusOK || r.ReturnCode == http.StatusNotFound
		return Result{Found: found, Success: success}
	}
	success := r.ReturnCode == http.StatusOK && !strings.Contains(strings.ToUpper(r.Message), "ERROR")
	return Result{Success: success, Changed: success}
}

// HasData reports whether DATA carries anything besides null or an empty container.
func (r *Response) HasData() bool {
	if r == nil {
		return false
	}
	trimmed := bytes.TrimSpace(r.Data)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}

// DecodeData unmarshals DATA into out.
func (r *Response) DecodeData(out any) error {
	if !r.HasData() {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

// DataString returns DATA as text; string payloads are unquoted.
func (r *Response) DataString() string {
	if r == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(r.Data))
}

// Check converts an unsuccessful result into a TransportError. GET calls
// must also be Found, so a 404 on a lookup endpoint is surfaced here.
func Check(op, verb string, resp *Response) error {
	if resp == nil {
		return &imageerr.TransportError{Op: op, Verb: verb, Message: "no response"}
	}
	result := resp.Result(verb)
	ok := result.Success
	if strings.EqualFold(verb, http.MethodGet) {
		ok = result.Found
	}
	if ok {
		return nil
	}
	msg := resp.Message
	if data := resp.DataString(); data != "" && data != "null" {
		msg = msg + " " + data
	}
	return &imageerr.TransportError{
		Op:         op,
		Verb:       verb,
		Path:       resp.RequestPath,
		ReturnCode: resp.ReturnCode,
		Message:    strings.TrimSpace(msg),
	}
}
