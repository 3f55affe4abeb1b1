package trustplane

import (
	"errors"
	"testing"
)

func TestCatalog_ImportAndLookup(t *testing.T) {
	catalog := NewControlCatalog()
	if catalog.Version() != 0 {
		t.Errorf("expected version 0 before import, got %d", catalog.Version())
	}

	version, err := catalog.Import(encryptionCatalog())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}
	if catalog.Len() != 3 {
		t.Errorf("expected 3 controls, got %d", catalog.Len())
	}

	c, ok := catalog.Get(ControlKey{FrameworkID: "SOC2", ControlID: "CC6.1"})
	if !ok {
		t.Fatal("expected SOC2/CC6.1 present")
	}
	if c.RiskLevel != RiskHigh {
		t.Errorf("expected high risk level, got %s", c.RiskLevel)
	}
	if _, ok := catalog.Get(ControlKey{FrameworkID: "SOC2", ControlID: "CC9.9"}); ok {
		t.Error("expected unknown control absent")
	}

	fws := catalog.Frameworks()
	want := []string{"SOC2", "ISO27001", "PCI-DSS"}
	if len(fws) != len(want) {
		t.Fatalf("expected %d frameworks, got %v", len(want), fws)
	}
	for i := range want {
		if fws[i] != want[i] {
			t.Errorf("framework %d: expected %s, got %s", i, want[i], fws[i])
		}
	}
}

func TestCatalog_ReimportBumpsVersion(t *testing.T) {
	catalog := NewControlCatalog()
	if _, err := catalog.Import(encryptionCatalog()); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	replacement := []Control{{FrameworkID: "NIST", ControlID: "AC-2", Description: "Account management"}}
	version, err := catalog.Import(replacement)
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
	// Old controls are superseded, not merged.
	if catalog.Len() != 1 {
		t.Errorf("expected 1 control after replacement, got %d", catalog.Len())
	}
	if _, ok := catalog.Get(ControlKey{FrameworkID: "SOC2", ControlID: "CC6.1"}); ok {
		t.Error("expected superseded control gone")
	}
}

func TestCatalog_ImportRejectsBadInput(t *testing.T) {
	catalog := NewControlCatalog()

	if _, err := catalog.Import(nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("empty import: expected ErrConfiguration, got %v", err)
	}
	if _, err := catalog.Import([]Control{{FrameworkID: "SOC2"}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing control id: expected ErrConfiguration, got %v", err)
	}
	dup := []Control{
		{FrameworkID: "SOC2", ControlID: "CC6.1"},
		{FrameworkID: "SOC2", ControlID: "CC6.1"},
	}
	if _, err := catalog.Import(dup); !errors.Is(err, ErrConfiguration) {
		t.Errorf("duplicate key: expected ErrConfiguration, got %v", err)
	}
	// A failed import leaves the catalog untouched.
	if catalog.Version() != 0 || catalog.Len() != 0 {
		t.Errorf("failed import mutated the catalog: version %d, len %d", catalog.Version(), catalog.Len())
	}
}

func TestCatalog_SnapshotIsolation(t *testing.T) {
	catalog := NewControlCatalog()
	if _, err := catalog.Import(encryptionCatalog()); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	snap := catalog.Snapshot()
	snap.Controls[0].Description = "mutated"

	c, _ := catalog.Get(ControlKey{FrameworkID: "SOC2", ControlID: "CC6.1"})
	if c.Description == "mutated" {
		t.Error("snapshot mutation leaked into the catalog")
	}
}

func TestControlKey_String(t *testing.T) {
	key := ControlKey{FrameworkID: "SOC2", ControlID: "CC6.1"}
	if got := key.String(); got != "SOC2/CC6.1" {
		t.Errorf("expected SOC2/CC6.1, got %s", got)
	}
}
