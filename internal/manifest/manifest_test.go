package manifest

import "testing"

func validManifest() Manifest {
	return Manifest{
		Name:      "add-retry",
		WorkDir:   "/tmp/project",
		RiskLevel: RiskMedium,
		Mode:      ModeStandard,
		Components: []ComponentDef{
			{ID: "net", Files: []string{"net.go"}},
			{ID: "client", Files: []string{"client.go"}, DependsOn: []string{"net"}},
		},
	}
}

func TestValidateRejectsDuplicateComponentID(t *testing.T) {
	m := validManifest()
	m.Components = append(m.Components, ComponentDef{ID: "net", Files: []string{"other.go"}})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for duplicate component id")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	m := validManifest()
	m.Components[1].DependsOn = []string{"ghost"}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for unknown dependency")
	}
}

func TestValidateRejectsSharedFiles(t *testing.T) {
	m := validManifest()
	m.Components[1].Files = []string{"net.go"}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for file claimed by two components")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	m := validManifest()
	m.Components[0].DependsOn = []string{"client"}
	err := m.Validate()
	if err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	m := validManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDependencyLevelsOrdersByDependency(t *testing.T) {
	m := validManifest()
	levels, err := m.DependencyLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if len(levels[0]) != 1 || levels[0][0] != "net" {
		t.Fatalf("expected level 0 = [net], got %v", levels[0])
	}
	if len(levels[1]) != 1 || levels[1][0] != "client" {
		t.Fatalf("expected level 1 = [client], got %v", levels[1])
	}
}

func TestDependencyLevelsThreeComponentDiamond(t *testing.T) {
	m := validManifest()
	m.Components = append(m.Components, ComponentDef{ID: "server", Files: []string{"server.go"}, DependsOn: []string{"net"}})
	levels, err := m.DependencyLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %v", len(levels), levels)
	}
	if len(levels[1]) != 2 {
		t.Fatalf("expected level 1 to contain both dependents, got %v", levels[1])
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	m := validManifest()
	m.Components[0].DependsOn = []string{"net"}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for self dependency")
	}
}

func TestValidateRejectsInvalidRiskLevel(t *testing.T) {
	m := validManifest()
	m.RiskLevel = "extreme"
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for invalid risk level")
	}
}

func TestValidateRejectsMissingWorkDir(t *testing.T) {
	m := validManifest()
	m.WorkDir = ""
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for missing work_dir")
	}
}
