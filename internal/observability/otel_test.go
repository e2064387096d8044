package observability

import (
	"context"
	"testing"

	"github.com/robertarktes/bunk-reservations/internal/config"
)

func TestSetupOTel_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupOTel(context.Background(), &config.Config{}, "bunks-test")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	shutdown()
}

func TestSetupOTel_UnknownProtocol(t *testing.T) {
	_, err := SetupOTel(context.Background(), &config.Config{OTLPEndpoint: "localhost:4317", OTLPProtocol: "carrier-pigeon"}, "bunks-test")
	if err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}
