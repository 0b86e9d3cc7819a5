package engine

import "fmt"

// Engine construction is a closed, two-level dispatch: first on the engine
// style, then (for clients) on the call pattern. The variant set is fixed by
// the control protocol contract, so the dispatch tables below are the single
// source of truth for which variants this worker build supports.
//
// An unrecognized style means the driver and the worker disagree on the
// protocol version. That is not recoverable input, so it panics rather than
// returning an error. A recognized style that fails to construct returns an
// error, which the session handler reports back to the driver.

type clientVariant struct {
	style   string
	pattern string
}

var clientConstructors = map[clientVariant]func(*ClientConfig) (Engine, error){
	{StyleSync, PatternUnary}:      newSyncUnaryClient,
	{StyleSync, PatternStreaming}:  newSyncStreamingClient,
	{StyleAsync, PatternUnary}:     newAsyncUnaryClient,
	{StyleAsync, PatternStreaming}: newAsyncStreamingClient,
}

var serverConstructors = map[string]func(*ServerConfig) (Server, error){
	StyleSync:  newSyncServer,
	StyleAsync: newAsyncServer,
}

// NewClient constructs the client engine variant named by the given
// configuration and starts its load generation.
func NewClient(cfg *ClientConfig) (Engine, error) {
	ctor, ok := clientConstructors[clientVariant{style: cfg.Style, pattern: cfg.Pattern}]
	if !ok {
		if !isKnownStyle(cfg.Style) {
			panic(fmt.Sprintf("unsupported client engine style: %q", cfg.Style))
		}
		return nil, fmt.Errorf("unrecognized call pattern for %s client engine: %q", cfg.Style, cfg.Pattern)
	}
	return ctor(cfg)
}

// NewServer constructs the server engine variant named by the given
// configuration, binding its listening port before returning.
func NewServer(cfg *ServerConfig) (Server, error) {
	ctor, ok := serverConstructors[cfg.Style]
	if !ok {
		panic(fmt.Sprintf("unsupported server engine style: %q", cfg.Style))
	}
	return ctor(cfg)
}

func isKnownStyle(style string) bool {
	return style == StyleSync || style == StyleAsync
}
