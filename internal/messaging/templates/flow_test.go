package templates

import (
	"errors"
	"testing"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/flow/flowtest"
)

func TestCheckFlow(t *testing.T) {
	def := flowtest.Consultation("org-1")
	if err := CheckFlow(def); err != nil {
		t.Fatalf("expected fixture to pass: %v", err)
	}

	def.Steps[1].DripSequence[0].Message = "Hi {{.first_name"
	err := CheckFlow(def)
	if !errors.Is(err, flow.ErrInvalidFlow) {
		t.Fatalf("expected ErrInvalidFlow, got %v", err)
	}
}
