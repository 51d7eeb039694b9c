package flow

import (
	"strings"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Maria", "Maria", true},
		{"meu nome é João Silva", "João Silva", true},
		{"Me chamo Ana!", "Ana", true},
		{"sou a Carla.", "Carla", true},
		{"nome: Pedro", "Pedro", true},
		{"My name is  Alex  Doe", "Alex Doe", true},
		{"   ", "", false},
		{"12345", "", false},
		{"!!!", "", false},
		{strings.Repeat("a", MaxNameLen+1), "", false},
	}
	for _, tt := range tests {
		got, ok := ParseName(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseName(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParsePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(11) 98765-4321", "11987654321", true},
		{"+55 11 98765 4321", "+5511987654321", true},
		{"1234-5678", "12345678", true},
		{"1234567", "", false},
		{"1234567890123456", "", false},
		{"não tenho", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePhone(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePhone(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	step := Advance(State{}, "oi")
	if step.State.Stage != StageCollectName || step.Tools || step.SaveLead {
		t.Fatalf("greeting step = %+v", step)
	}
	if !strings.Contains(step.Instruction, "Ana Clara") {
		t.Errorf("greeting instruction = %q", step.Instruction)
	}

	step = Advance(step.State, "me chamo Bruna")
	if step.State.Stage != StageCollectPhone || step.State.Name != "Bruna" {
		t.Fatalf("name step = %+v", step)
	}
	if !strings.Contains(step.Instruction, "Prazer, Bruna!") {
		t.Errorf("phone instruction = %q", step.Instruction)
	}

	step = Advance(step.State, "11 98888-7777")
	if step.State.Stage != StageSaveLead || !step.SaveLead || step.State.Phone != "11988887777" {
		t.Fatalf("phone step = %+v", step)
	}

	s := LeadSaved(step.State)
	if s.Stage != StageCollectIntent || !s.LeadSaved {
		t.Fatalf("LeadSaved = %+v", s)
	}

	step = Advance(s, "quero um fone bluetooth")
	if step.State.Stage != StageSearch || !step.Tools || step.SaveLead {
		t.Fatalf("intent step = %+v", step)
	}

	step = Advance(step.State, "tem mais barato?")
	if step.State.Stage != StageSearch || !step.Tools {
		t.Fatalf("search step = %+v", step)
	}
}

func TestAdvanceRetriesInvalidInput(t *testing.T) {
	step := Advance(State{Stage: StageCollectName}, "???")
	if step.State.Stage != StageCollectName || step.State.Name != "" {
		t.Errorf("invalid name advanced: %+v", step)
	}

	s := State{Stage: StageCollectPhone, Name: "Bruna"}
	step = Advance(s, "depois eu passo")
	if step.State.Stage != StageCollectPhone || step.SaveLead {
		t.Errorf("invalid phone advanced: %+v", step)
	}
	if !strings.Contains(step.Instruction, "Bruna") {
		t.Errorf("retry instruction = %q", step.Instruction)
	}
}

func TestAdvanceUnknownStageRestarts(t *testing.T) {
	step := Advance(State{Stage: "bogus", Name: "x"}, "oi")
	if step.State.Stage != StageCollectName || step.State.Name != "" {
		t.Errorf("unknown stage = %+v", step.State)
	}
}

func TestAdvanceUnsavedLeadRetries(t *testing.T) {
	s := State{Stage: StageSaveLead, Name: "Bruna", Phone: "11988887777"}
	step := Advance(s, "oi?")
	if !step.SaveLead || step.State.Stage != StageSaveLead {
		t.Errorf("unsaved lead step = %+v", step)
	}
}
