package rpcserver

import (
	"errors"
	"testing"

	"protorpc/codec"
)

type pingRequest struct {
	From string `json:"from"`
}

type pingResponse struct {
	Msg string `json:"msg"`
}

func TestBindAndLookup(t *testing.T) {
	reg := NewRegistry()
	err := Bind(reg, "test.PingRequest", codec.JSONCodec{}, func(ctx *Context, req *pingRequest) (*pingResponse, error) {
		return &pingResponse{Msg: "Pong"}, nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	fn, notFound := reg.lookup("test.PingRequest")
	if fn == nil || notFound != "" {
		t.Fatalf("lookup failed to find bound handler: notFound=%q", notFound)
	}

	reqBytes, _ := codec.JSONCodec{}.Marshal(&pingRequest{From: "hi"})
	ctx := newContext(map[string]string{"sessionId": "S"})
	respBytes := fn(ctx, reqBytes)

	var resp pingResponse
	if err := (codec.JSONCodec{}).Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Msg != "Pong" || ctx.Err() != "" {
		t.Errorf("got resp=%+v errMsg=%q, want Msg=Pong errMsg=\"\"", resp, ctx.Err())
	}
}

func TestBindDuplicateNameFails(t *testing.T) {
	reg := NewRegistry()
	fn := func(ctx *Context, req *pingRequest) (*pingResponse, error) { return &pingResponse{}, nil }
	if err := Bind(reg, "dup", codec.JSONCodec{}, fn); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if err := Bind(reg, "dup", codec.JSONCodec{}, fn); err == nil {
		t.Fatal("expected second Bind of the same name to fail")
	}
}

func TestLookupUnknownNameReportsExactMessage(t *testing.T) {
	reg := NewRegistry()
	fn, notFound := reg.lookup("nope")
	if fn != nil {
		t.Fatal("expected no handler for an unbound name")
	}
	if notFound != "Unknown request: 'nope'" {
		t.Errorf("notFound = %q, want %q", notFound, "Unknown request: 'nope'")
	}
}

func TestBindAfterFreezeFails(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()
	fn := func(ctx *Context, req *pingRequest) (*pingResponse, error) { return &pingResponse{}, nil }
	if err := Bind(reg, "late", codec.JSONCodec{}, fn); err == nil {
		t.Fatal("expected Bind after Freeze to fail")
	}
}

func TestHandlerErrorSetsContextErrMsg(t *testing.T) {
	reg := NewRegistry()
	Bind(reg, "fails", codec.JSONCodec{}, func(ctx *Context, req *pingRequest) (*pingResponse, error) {
		return nil, errors.New("boom")
	})
	fn, _ := reg.lookup("fails")
	ctx := newContext(nil)
	respBytes := fn(ctx, []byte(`{}`))
	if ctx.Err() != "boom" {
		t.Errorf("ctx.Err() = %q, want %q", ctx.Err(), "boom")
	}
	if len(respBytes) != 0 {
		t.Errorf("expected empty response body on handler error, got %q", respBytes)
	}
}

func TestDecodeFailureReportsExactMessage(t *testing.T) {
	reg := NewRegistry()
	Bind(reg, "decode-fail", codec.JSONCodec{}, func(ctx *Context, req *pingRequest) (*pingResponse, error) {
		return &pingResponse{Msg: "unreachable"}, nil
	})
	fn, _ := reg.lookup("decode-fail")
	ctx := newContext(nil)
	fn(ctx, []byte("not json"))
	if ctx.Err() != "Failed to read protobuf request message" {
		t.Errorf("ctx.Err() = %q", ctx.Err())
	}
}
