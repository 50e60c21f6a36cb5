package middleware

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/rpcserver"
)

func echoHandler(ctx *rpcserver.Context, reqBytes []byte) []byte {
	return append([]byte{}, reqBytes...)
}

func taggingMiddleware(tag string, trace *[]string) rpcserver.Middleware {
	return func(next rpcserver.HandlerFunc) rpcserver.HandlerFunc {
		return func(ctx *rpcserver.Context, reqBytes []byte) []byte {
			*trace = append(*trace, tag+":before")
			resp := next(ctx, reqBytes)
			*trace = append(*trace, tag+":after")
			return resp
		}
	}
}

func TestChainAppliesOutermostFirst(t *testing.T) {
	var trace []string
	handler := Chain(taggingMiddleware("A", &trace), taggingMiddleware("B", &trace))(echoHandler)

	ctx := rpcserver.NewContext(nil)
	handler(ctx, []byte("hi"))

	want := []string{"A:before", "B:before", "B:after", "A:after"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("trace[%d] = %q, want %q", i, trace[i], want[i])
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		ctx := rpcserver.NewContext(nil)
		handler(ctx, []byte("x"))
		if ctx.Err() != "" {
			t.Fatalf("request %d should pass, got error: %q", i, ctx.Err())
		}
	}

	ctx := rpcserver.NewContext(nil)
	handler(ctx, []byte("x"))
	if ctx.Err() != "rate limit exceeded" {
		t.Fatalf("third request should be rate limited, got: %q", ctx.Err())
	}
}

func TestLoggingMiddlewarePassesThroughResponse(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	ctx := rpcserver.NewContext(nil)
	resp := handler(ctx, []byte("payload"))
	if string(resp) != "payload" {
		t.Errorf("resp = %q, want %q", resp, "payload")
	}
	if ctx.Err() != "" {
		t.Errorf("ctx.Err() = %q, want empty", ctx.Err())
	}
}

func TestRetryCallSucceedsAfterSlowHandlerTimesOutOnce(t *testing.T) {
	var calls int
	srv := rpcserver.NewServer(rpcserver.Config{ThreadsCount: 2}, zap.NewNop())
	rpcserver.Bind(srv.Handlers(), "flaky", codec.JSONCodec{}, func(ctx *rpcserver.Context, req *pingRequest) (*pingResponse, error) {
		calls++
		if calls == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		return &pingResponse{Msg: "ok"}, nil
	})
	if err := srv.Start("tcp", "0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	port, err := srv.Listener().Port()
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	resp, err := RetryCall[pingRequest, pingResponse]("tcp", addr, "flaky", codec.JSONCodec{},
		&pingRequest{From: "hi"}, nil, 100, 2, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("RetryCall: %v", err)
	}
	if resp.Msg != "ok" {
		t.Errorf("resp.Msg = %q, want ok", resp.Msg)
	}
	if calls < 2 {
		t.Errorf("calls = %d, want at least 2 (first attempt should time out)", calls)
	}
}

type pingRequest struct {
	From string `json:"from"`
}

type pingResponse struct {
	Msg string `json:"msg"`
}
