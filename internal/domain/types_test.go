package domain

import (
	"testing"
)

func TestFunnelStageConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    FunnelStage
		expected string
	}{
		{"Issued", ISSUED, "ISSUED"},
		{"Viewed", VIEWED, "VIEWED"},
		{"Contacted", CONTACTED, "CONTACTED"},
		{"Client", CLIENT, "CLIENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.value))
			}
		})
	}
}

func TestFunnelStageOrder(t *testing.T) {
	if !(ISSUED.Order() < VIEWED.Order() &&
		VIEWED.Order() < CONTACTED.Order() &&
		CONTACTED.Order() < CLIENT.Order()) {
		t.Error("funnel stages must be strictly ordered ISSUED < VIEWED < CONTACTED < CLIENT")
	}
}

func TestFunnelStageIsValid(t *testing.T) {
	for _, stage := range []FunnelStage{ISSUED, VIEWED, CONTACTED, CLIENT} {
		if !stage.IsValid() {
			t.Errorf("%s should be valid", stage)
		}
	}
	if FunnelStage("GHOSTED").IsValid() {
		t.Error("unknown stage should be invalid")
	}
}

func TestSessionFormatIsValid(t *testing.T) {
	tests := []struct {
		value    SessionFormat
		expected bool
	}{
		{VIRTUAL, true},
		{IN_PERSON, true},
		{PHONE, true},
		{SessionFormat("CARRIER_PIGEON"), false},
		{SessionFormat(""), false},
	}

	for _, tt := range tests {
		if tt.value.IsValid() != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.value, !tt.expected, tt.expected)
		}
	}
}

func TestSeverityIsValid(t *testing.T) {
	for _, sev := range []Severity{MILD, MODERATE, SEVERE} {
		if !sev.IsValid() {
			t.Errorf("%s should be valid", sev)
		}
	}
	if Severity("CRITICAL").IsValid() {
		t.Error("unknown severity should be invalid")
	}
}

func TestMatchResultStage(t *testing.T) {
	tests := []struct {
		name     string
		result   MatchResult
		expected FunnelStage
	}{
		{"fresh result", MatchResult{}, ISSUED},
		{"viewed only", MatchResult{WasViewed: true}, VIEWED},
		{"contacted", MatchResult{WasViewed: true, WasContacted: true}, CONTACTED},
		{"converted", MatchResult{WasViewed: true, WasContacted: true, BecameClient: true}, CLIENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Stage(); got != tt.expected {
				t.Errorf("Stage() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{
			name:    "exact sum",
			weights: Weights{Condition: 0.3, Approach: 0.2, Experience: 0.2, Review: 0.15, Logistics: 0.15},
			wantErr: false,
		},
		{
			name:    "within tolerance",
			weights: Weights{Condition: 0.3, Approach: 0.2, Experience: 0.2, Review: 0.15, Logistics: 0.155},
			wantErr: false,
		},
		{
			name:    "sum too high",
			weights: Weights{Condition: 0.5, Approach: 0.5, Experience: 0.5, Review: 0.5, Logistics: 0.5},
			wantErr: true,
		},
		{
			name:    "sum too low",
			weights: Weights{Condition: 0.1, Approach: 0.1, Experience: 0.1, Review: 0.1, Logistics: 0.1},
			wantErr: true,
		},
		{
			name:    "negative coefficient",
			weights: Weights{Condition: -0.2, Approach: 0.4, Experience: 0.4, Review: 0.2, Logistics: 0.2},
			wantErr: true,
		},
		{
			name:    "coefficient above one",
			weights: Weights{Condition: 1.2, Approach: 0, Experience: 0, Review: 0, Logistics: -0.2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientProfileConditionNames(t *testing.T) {
	profile := ClientProfile{
		Conditions: []ClientCondition{
			{Name: "anxiety", Severity: MODERATE},
			{Name: "depression", Severity: MILD},
		},
	}

	names := profile.ConditionNames()
	if len(names) != 2 || names[0] != "anxiety" || names[1] != "depression" {
		t.Errorf("ConditionNames() = %v", names)
	}
}
