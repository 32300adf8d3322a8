package offsync

import "testing"

type registryStubBackend struct {
	InMemoryStateBackend
	dsn string
}

func TestRegisteredFactoryWinsOverBuiltins(t *testing.T) {
	RegisterStateBackendFactory("Custom-Scheme", func(dsn string) (StateBackend, error) {
		return &registryStubBackend{dsn: dsn}, nil
	})

	backend, err := BuildStateBackendFromDSN("custom-scheme://anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stub, ok := backend.(*registryStubBackend)
	if !ok {
		t.Fatalf("expected registered factory to build the backend, got %T", backend)
	}
	if stub.dsn != "custom-scheme://anything" {
		t.Fatalf("expected raw dsn to reach factory, got %q", stub.dsn)
	}
}

func TestRegisterStateBackendFactoryIgnoresBadInput(t *testing.T) {
	RegisterStateBackendFactory("   ", func(string) (StateBackend, error) { return nil, nil })
	RegisterStateBackendFactory("nil-factory", nil)
	if _, ok := lookupStateBackendFactory("nil-factory"); ok {
		t.Fatalf("expected nil factory to be rejected")
	}
}
