package execution

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is the gateway view of an inbound call.
type Request struct {
	ID             string
	TransactionID  string
	Method         string
	Scheme         string
	Host           string
	Path           string
	PathInfo       string
	ContextPath    string
	Headers        http.Header
	Parameters     url.Values
	PathParameters map[string]string
	RemoteAddress  string
	Timestamp      time.Time

	body     *Body
	messages MessageFlow
}

// NewRequest builds a Request from its parts. body may be nil.
func NewRequest(method, path string, headers http.Header, body io.ReadCloser) *Request {
	if headers == nil {
		headers = make(http.Header)
	}
	return &Request{
		Method:         method,
		Path:           path,
		PathInfo:       path,
		Headers:        headers,
		Parameters:     make(url.Values),
		PathParameters: make(map[string]string),
		Timestamp:      time.Now(),
		body:           NewBody(body),
	}
}

// Body returns the request body.
func (r *Request) Body() *Body {
	if r.body == nil {
		r.body = NewBody(nil)
	}
	return r.body
}

// SetBody replaces the request body content.
func (r *Request) SetBody(data []byte) {
	r.Body().Set(data)
}

// Messages returns the inbound message flow of message APIs.
func (r *Request) Messages() *MessageFlow {
	return &r.messages
}

// Streamer writes a streaming response body. flush pushes buffered bytes to the client.
type Streamer func(ctx context.Context, w io.Writer, flush func()) error

// StreamFailureHandler turns an error raised while a response is being
// streamed into the message that ends the stream. It returns nil when the
// error needs no message, a client going away for instance.
type StreamFailureHandler func(ctx context.Context, err error) *Message

// StreamFailure returns the handler installed on c, if any.
func StreamFailure(c *Context) StreamFailureHandler {
	h, _ := c.InternalAttribute(InternalStreamFailure).(StreamFailureHandler)
	return h
}

// Response is the gateway view of the answer to an inbound call.
type Response struct {
	Status   int
	Reason   string
	Headers  http.Header
	Trailers http.Header

	body     *Body
	messages MessageFlow
	streamer Streamer
}

// NewResponse creates an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status:   http.StatusOK,
		Headers:  make(http.Header),
		Trailers: make(http.Header),
		body:     NewBody(nil),
	}
}

// Body returns the response body.
func (r *Response) Body() *Body {
	if r.body == nil {
		r.body = NewBody(nil)
	}
	return r.body
}

// SetBody replaces the response body content.
func (r *Response) SetBody(data []byte) {
	r.Body().Set(data)
}

// SetBodyStream replaces the response body with an unread stream.
func (r *Response) SetBodyStream(source io.ReadCloser) {
	if r.body != nil {
		_ = r.body.Close()
	}
	r.body = NewBody(source)
}

// Messages returns the outbound message flow of message APIs.
func (r *Response) Messages() *MessageFlow {
	return &r.messages
}

// SetStreamer makes the response a stream written by s instead of Body.
func (r *Response) SetStreamer(s Streamer) {
	r.streamer = s
}

// Streamer returns the installed streamer, if any.
func (r *Response) Streamer() Streamer {
	return r.streamer
}

// Reset clears status, headers and body, keeping the response reusable for
// failure rendering.
func (r *Response) Reset() {
	r.Status = http.StatusOK
	r.Reason = ""
	r.Headers = make(http.Header)
	r.Trailers = make(http.Header)
	r.SetBody(nil)
	r.streamer = nil
}

// AcceptsMediaType reports whether the request Accept header admits mediaType.
func (r *Request) AcceptsMediaType(mediaType string) bool {
	accept := r.Headers.Values("Accept")
	if len(accept) == 0 {
		return false
	}
	for _, value := range accept {
		for _, part := range strings.Split(value, ",") {
			candidate := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
			if strings.EqualFold(candidate, mediaType) {
				return true
			}
		}
	}
	return false
}
