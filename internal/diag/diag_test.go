package diag

import "testing"

func TestBagSortIsDeterministic(t *testing.T) {
	bag := NewBag(10)
	r := BagReporter{Bag: bag}
	ReportWarning(r, LocSoftLimit, "process", "70 locals").Emit()
	ReportError(r, StkRecursion, "helper", "cycle").Emit()
	ReportInfo(r, LocOffsetPhi, "process", "phi narrowed").WithNote("process", "%p").Emit()

	bag.Sort()
	items := bag.Items()
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].Func != "helper" || items[1].Severity != SevWarning || items[2].Code != LocOffsetPhi {
		t.Fatalf("unexpected order: %+v", items)
	}
	if len(items[2].Notes) != 1 || items[2].Notes[0].Msg != "%p" {
		t.Fatalf("note lost: %+v", items[2])
	}
	if !bag.HasErrors() || !bag.HasWarnings() {
		t.Fatal("expected both errors and warnings")
	}
}

func TestBagRespectsLimitAndMerge(t *testing.T) {
	a := NewBag(1)
	if !a.Add(Diagnostic{Code: LocInfo}) {
		t.Fatal("first add rejected")
	}
	if a.Add(Diagnostic{Code: LocInfo}) {
		t.Fatal("add beyond limit accepted")
	}
	b := NewBag(2)
	b.Add(Diagnostic{Code: StkInfo})
	b.Add(Diagnostic{Code: StkInfo})
	a.Merge(b)
	if a.Len() != 3 || a.Cap() != 3 {
		t.Fatalf("merge: len=%d cap=%d", a.Len(), a.Cap())
	}
}

func TestBuilderEmitsOnce(t *testing.T) {
	bag := NewBag(4)
	b := ReportError(BagReporter{Bag: bag}, LocHardLimit, "f", "too many")
	b.Emit()
	b.Emit()
	if bag.Len() != 1 {
		t.Fatalf("emitted %d times", bag.Len())
	}
	if got := LocHardLimit.ID(); got != "LOC1002" {
		t.Fatalf("ID = %q", got)
	}
}
