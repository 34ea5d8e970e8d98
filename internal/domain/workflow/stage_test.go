package workflow

import "testing"

func TestStage_Predecessor(t *testing.T) {
	tests := []struct {
		stage    Stage
		pred     Stage
		hasPred  bool
	}{
		{StageGross, "", false},
		{StagePreparation, StageGross, true},
		{StageMicroscopic, StagePreparation, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			pred, ok := tt.stage.Predecessor()
			if ok != tt.hasPred {
				t.Errorf("Predecessor() ok = %v, want %v", ok, tt.hasPred)
			}
			if ok && pred != tt.pred {
				t.Errorf("Predecessor() = %v, want %v", pred, tt.pred)
			}
		})
	}
}

func TestStage_Next(t *testing.T) {
	tests := []struct {
		stage   Stage
		next    Stage
		hasNext bool
	}{
		{StageGross, StagePreparation, true},
		{StagePreparation, StageMicroscopic, true},
		{StageMicroscopic, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			next, ok := tt.stage.Next()
			if ok != tt.hasNext {
				t.Errorf("Next() ok = %v, want %v", ok, tt.hasNext)
			}
			if ok && next != tt.next {
				t.Errorf("Next() = %v, want %v", next, tt.next)
			}
		})
	}
}

func TestStage_OrderIsConsistent(t *testing.T) {
	// Every non-first stage's predecessor must be the previous element of
	// Stages, so the gate chain covers the whole pipeline.
	for i, stage := range Stages {
		pred, ok := stage.Predecessor()
		if i == 0 {
			if ok {
				t.Errorf("first stage %v should have no predecessor", stage)
			}
			continue
		}
		if !ok || pred != Stages[i-1] {
			t.Errorf("stage %v predecessor = %v, want %v", stage, pred, Stages[i-1])
		}
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		raw   string
		stage Stage
		ok    bool
	}{
		{"gross", StageGross, true},
		{"GROSS", StageGross, true},
		{"Preparation", StagePreparation, true},
		{"microscopic", StageMicroscopic, true},
		{"macro", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			stage, ok := ParseStage(tt.raw)
			if ok != tt.ok {
				t.Errorf("ParseStage(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && stage != tt.stage {
				t.Errorf("ParseStage(%q) = %v, want %v", tt.raw, stage, tt.stage)
			}
		})
	}
}
