package eventlog

import "testing"

func TestAuditLogAppendAndTail(t *testing.T) {
	a := NewAuditLog("L9")
	if err := a.Append("E1", "enqueued", "safety", 20); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Append("E2", "skipped", "already queued", 0); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all := a.GetAll()
	if len(all) != 2 {
		t.Fatalf("len(GetAll()) = %d, want 2", len(all))
	}
	if all[0].EquipmentID != "E1" || all[1].EquipmentID != "E2" {
		t.Errorf("unexpected event order: %+v", all)
	}

	tail := a.Tail(2, 10)
	if len(tail) != 1 || tail[0].EquipmentID != "E2" {
		t.Errorf("Tail(2, 10) = %+v, want single E2 event", tail)
	}
}

func TestAuditLogRequiresFields(t *testing.T) {
	a := NewAuditLog("L9")
	if err := a.Append("", "enqueued", "", 0); err == nil {
		t.Error("expected error for empty equipmentID")
	}
	if err := a.Append("E1", "", "", 0); err == nil {
		t.Error("expected error for empty decision")
	}
}

func TestAuditLogTruncates(t *testing.T) {
	a := NewAuditLog("L9")
	a.maxEvents = 2
	a.Append("E1", "enqueued", "r1", 1)
	a.Append("E2", "enqueued", "r2", 1)
	a.Append("E3", "enqueued", "r3", 1)

	all := a.GetAll()
	if len(all) != 2 {
		t.Fatalf("len(GetAll()) = %d, want 2 after truncation", len(all))
	}
	if all[0].EquipmentID != "E2" || all[1].EquipmentID != "E3" {
		t.Errorf("unexpected events after truncation: %+v", all)
	}
}
