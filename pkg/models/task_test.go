package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	for _, s := range []TaskStatus{
		TaskStatusPending, TaskStatusReady, TaskStatusDispatched,
		TaskStatusCompleted, TaskStatusFailedRetryable, TaskStatusBlocked,
	} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if TaskStatus("done").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusPending:         false,
		TaskStatusReady:           false,
		TaskStatusDispatched:      false,
		TaskStatusCompleted:       true,
		TaskStatusFailedRetryable: false,
		TaskStatusBlocked:         true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestCapabilityValid(t *testing.T) {
	for _, c := range Capabilities() {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Capability("wizard").Valid() {
		t.Error("unknown capability should be invalid")
	}
	if Capability("").Valid() {
		t.Error("empty capability should be invalid")
	}
}

func TestAgentStatusValid(t *testing.T) {
	for _, s := range []AgentStatus{AgentStatusIdle, AgentStatusBusy, AgentStatusRetiring} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if AgentStatus("sleeping").Valid() {
		t.Error("unknown status should be invalid")
	}
}
