package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageTimerRecordsErrors(t *testing.T) {
	before := testutil.ToFloat64(stageErrors.WithLabelValues("stable", "main", "extract"))

	done := StageTimer("stable", "main", "extract")
	done(errors.New("boom"))

	after := testutil.ToFloat64(stageErrors.WithLabelValues("stable", "main", "extract"))
	if after != before+1 {
		t.Errorf("want stageErrors incremented by 1, got %v -> %v", before, after)
	}
}

func TestStageTimerSuccessDoesNotCountAsError(t *testing.T) {
	before := testutil.ToFloat64(stageErrors.WithLabelValues("stable", "contrib", "compose"))

	done := StageTimer("stable", "contrib", "compose")
	done(nil)

	after := testutil.ToFloat64(stageErrors.WithLabelValues("stable", "contrib", "compose"))
	if after != before {
		t.Errorf("want stageErrors unchanged on success, got %v -> %v", before, after)
	}
}

func TestPackageProcessedIncrements(t *testing.T) {
	before := testutil.ToFloat64(packagesProcessed.WithLabelValues("stable", "main"))
	PackageProcessed("stable", "main")
	after := testutil.ToFloat64(packagesProcessed.WithLabelValues("stable", "main"))
	if after != before+1 {
		t.Errorf("want packagesProcessed incremented by 1, got %v -> %v", before, after)
	}
}

func TestSetComponentsTotalOverwrites(t *testing.T) {
	SetComponentsTotal("testing", "main", 5)
	if got := testutil.ToFloat64(componentsFound.WithLabelValues("testing", "main")); got != 5 {
		t.Errorf("want 5, got %v", got)
	}
	SetComponentsTotal("testing", "main", 3)
	if got := testutil.ToFloat64(componentsFound.WithLabelValues("testing", "main")); got != 3 {
		t.Errorf("want overwritten value 3, got %v", got)
	}
}

func TestSetHintsTotalPerSeverity(t *testing.T) {
	SetHintsTotal("stable", "main", "error", 2)
	SetHintsTotal("stable", "main", "warning", 7)

	if got := testutil.ToFloat64(hintsBySeverity.WithLabelValues("stable", "main", "error")); got != 2 {
		t.Errorf("want 2 errors, got %v", got)
	}
	if got := testutil.ToFloat64(hintsBySeverity.WithLabelValues("stable", "main", "warning")); got != 7 {
		t.Errorf("want 7 warnings, got %v", got)
	}
}
