// Package tracing wires optional Langfuse tracing into every chat model call.
package tracing

import (
	"context"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"

	"github.com/54b3r/kbase-go/internal/config"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. Returns a flush function that must be called
// before process exit to ensure all traces are sent. If Langfuse is not
// configured, the first two return values are nil and ok is false.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := config.Env("LANGFUSE_PUBLIC_KEY", "")
	secretKey := config.Env("LANGFUSE_SECRET_KEY", "")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      config.Env("LANGFUSE_HOST", DefaultHost),
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "kbase",
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally when configured and returns
// the flush function, which is a no-op when tracing is disabled.
func Install() (flush func(), enabled bool) {
	handler, flush, ok := Setup()
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}

// ChatModelRun returns ctx prepared so that a direct chat model call named
// name reports to the globally installed handlers.
func ChatModelRun(ctx context.Context, name string) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Component: components.ComponentOfChatModel,
	})
}
