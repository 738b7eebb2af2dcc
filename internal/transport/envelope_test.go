package transport

import (
	"testing"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestEnvelope_MarshalUnmarshalRoundTrip(t *testing.T) {
	e := Envelope{
		Action:      ActionStartExecution,
		ExecutionID: "exec-1",
		Payload:     map[string]any{"agentId": "researcher"},
		Timestamp:   time.Now().UTC().Truncate(time.Second),
	}
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Action != e.Action || got.ExecutionID != e.ExecutionID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestUnmarshal_RejectsUnknownAction(t *testing.T) {
	_, err := Unmarshal([]byte(`{"action":"delete_everything","payload":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	if !kernel.IsKind(err, kernel.KindValidationError) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFail_CarriesKernelErrorKind(t *testing.T) {
	resp := Fail(kernel.NewError(kernel.KindBudgetExceeded, "over budget"))
	if resp.Success {
		t.Fatal("expected a failed response")
	}
	if resp.Error.Code != string(kernel.KindBudgetExceeded) {
		t.Fatalf("expected code %q, got %q", kernel.KindBudgetExceeded, resp.Error.Code)
	}
}

func TestTokenSigner_SignVerifyRoundTrip(t *testing.T) {
	signer := NewTokenSigner("test-secret", time.Minute)
	token, err := signer.Sign(ActionApproveCheckpoint, "exec-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.Verify(token, ActionApproveCheckpoint, "exec-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestTokenSigner_RejectsWrongAction(t *testing.T) {
	signer := NewTokenSigner("test-secret", time.Minute)
	token, _ := signer.Sign(ActionHeartbeat, "exec-1")
	if _, err := signer.Verify(token, ActionApproveCheckpoint, "exec-1"); err == nil {
		t.Fatal("expected rejection of a token scoped to a different action")
	}
}

func TestTokenSigner_RejectsWrongExecution(t *testing.T) {
	signer := NewTokenSigner("test-secret", time.Minute)
	token, _ := signer.Sign(ActionApproveCheckpoint, "exec-1")
	if _, err := signer.Verify(token, ActionApproveCheckpoint, "exec-2"); err == nil {
		t.Fatal("expected rejection of a token scoped to a different execution")
	}
}

func TestRequireAuthentication_HeartbeatNeedsToken(t *testing.T) {
	signer := NewTokenSigner("test-secret", time.Minute)
	e := Envelope{Action: ActionHeartbeat}
	if err := signer.RequireAuthentication(e); err == nil {
		t.Fatal("expected heartbeat without a token to be rejected")
	}
}

func TestRequireAuthentication_StartExecutionNeedsNoToken(t *testing.T) {
	signer := NewTokenSigner("test-secret", time.Minute)
	e := Envelope{Action: ActionStartExecution}
	if err := signer.RequireAuthentication(e); err != nil {
		t.Fatalf("start_execution should not require a token: %v", err)
	}
}
