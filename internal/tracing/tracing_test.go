package tracing

import (
	"context"
	"testing"
)

func TestSetupIsNoopWithoutEndpoint(t *testing.T) {
	t.Setenv(EndpointEnv, "")
	t.Setenv(TracesEndpointEnv, "")
	t.Setenv(DisableEnv, "")

	if Enabled() {
		t.Fatalf("expected tracing disabled without an endpoint")
	}
	shutdown, err := Setup(context.Background(), "racesync-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupHonoursExplicitDisable(t *testing.T) {
	t.Setenv(EndpointEnv, "http://192.0.2.1:4318")
	t.Setenv(TracesEndpointEnv, "")
	t.Setenv(DisableEnv, "FALSE")

	if Enabled() {
		t.Fatalf("expected explicit disable to win")
	}
}

func TestSetupCreatesProviderForTracesEndpoint(t *testing.T) {
	//1.- A non-routable address keeps the test from exporting anything.
	t.Setenv(EndpointEnv, "")
	t.Setenv(TracesEndpointEnv, "http://192.0.2.1:4318/v1/traces")
	t.Setenv(DisableEnv, "")

	shutdown, err := Setup(context.Background(), "racesync-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
