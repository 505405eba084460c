// Package controllertest provides a scripted controller.Sender for tests.
package controllertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/httprunner/ImageAgent/pkg/controller"
)

// Call records one request seen by Sender.
type Call struct {
	Verb string
	Path string
	Body any
}

// Sender replies from per-route queues. The last reply of a queue repeats.
type Sender struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []Call
}

type reply struct {
	resp *controller.Response
	err  error
}

// NewSender returns an empty scripted sender.
func NewSender() *Sender {
	return &Sender{replies: make(map[string][]reply)}
}

func routeKey(verb, path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return strings.ToUpper(verb) + " " + path
}

// Reply queues a response whose DATA is data marshalled to JSON.
func (s *Sender) Reply(verb, path string, code int, message string, data any) *Sender {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("controllertest: marshal data: %v", err))
	}
	return s.ReplyResponse(verb, path, &controller.Response{
		ReturnCode:  code,
		Method:      strings.ToUpper(verb),
		RequestPath: path,
		Message:     message,
		Data:        raw,
	})
}

// ReplyResponse queues a prepared response.
func (s *Sender) ReplyResponse(verb, path string, resp *controller.Response) *Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(verb, path)
	s.replies[key] = append(s.replies[key], reply{resp: resp})
	return s
}

// ReplyError queues a transport error.
func (s *Sender) ReplyError(verb, path string, err error) *Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(verb, path)
	s.replies[key] = append(s.replies[key], reply{err: err})
	return s
}

// Send implements controller.Sender.
func (s *Sender) Send(_ context.Context, verb, path string, body any) (*controller.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Verb: strings.ToUpper(verb), Path: path, Body: body})
	key := routeKey(verb, path)
	queue := s.replies[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("controllertest: no reply for %s", key)
	}
	next := queue[0]
	if len(queue) > 1 {
		s.replies[key] = queue[1:]
	}
	return next.resp, next.err
}

// Calls returns every request seen so far.
func (s *Sender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns requests matching verb and path (query string ignored).
func (s *Sender) CallsTo(verb, path string) []Call {
	key := routeKey(verb, path)
	var out []Call
	for _, c := range s.Calls() {
		if routeKey(c.Verb, c.Path) == key {
			out = append(out, c)
		}
	}
	return out
}

// IssuReport wraps records into the ISSU report DATA shape.
func IssuReport(records ...map[string]any) map[string]any {
	list := make([]any, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	return map[string]any{"status": "SUCCESS", "lastOperDataObject": list}
}

// Switch returns an ISSU record with sane defaults overridden by fields.
func Switch(serial, ip string, fields map[string]any) map[string]any {
	rec := map[string]any{
		"deviceName":         "sw-" + serial,
		"ipAddress":          ip,
		"serialNumber":       serial,
		"platform":           "N9K",
		"model":              "N9K-C93180YC-EX",
		"policy":             "None",
		"imageStaged":        "none",
		"imageStagedPercent": 0,
		"validated":          "none",
		"validatedPercent":   0,
		"upgrade":            "none",
		"upgradePercent":     0,
	}
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}
