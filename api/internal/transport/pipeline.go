package transport

import (
	"context"
	"fmt"
)

// RequestTransform rewrites an outgoing request before it is sent.
// Returning an error aborts the call.
type RequestTransform interface {
	TransformRequest(ctx context.Context, req *Request) error
}

// ResponseTransform rewrites a 2xx response before it reaches the caller.
type ResponseTransform interface {
	TransformResponse(ctx context.Context, resp *Response) error
}

// RequestTransformFunc adapts a function to RequestTransform.
type RequestTransformFunc func(ctx context.Context, req *Request) error

func (f RequestTransformFunc) TransformRequest(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// ResponseTransformFunc adapts a function to ResponseTransform.
type ResponseTransformFunc func(ctx context.Context, resp *Response) error

func (f ResponseTransformFunc) TransformResponse(ctx context.Context, resp *Response) error {
	return f(ctx, resp)
}

// Pipeline is an explicit ordered list of transforms. Both stages run in
// registration order. A Pipeline is built once and then only read.
type Pipeline struct {
	requests  []RequestTransform
	responses []ResponseTransform
}

// NewPipeline registers every transform in order.
func NewPipeline(transforms ...any) (*Pipeline, error) {
	p := &Pipeline{}
	for _, t := range transforms {
		if err := p.Use(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Use registers t for every stage it implements.
func (p *Pipeline) Use(t any) error {
	reqT, isReq := t.(RequestTransform)
	respT, isResp := t.(ResponseTransform)
	if !isReq && !isResp {
		return fmt.Errorf("transport: %T implements neither RequestTransform nor ResponseTransform", t)
	}
	if isReq {
		p.requests = append(p.requests, reqT)
	}
	if isResp {
		p.responses = append(p.responses, respT)
	}
	return nil
}

func (p *Pipeline) transformRequest(ctx context.Context, req *Request) error {
	for _, t := range p.requests {
		if err := t.TransformRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) transformResponse(ctx context.Context, resp *Response) error {
	for _, t := range p.responses {
		if err := t.TransformResponse(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}
