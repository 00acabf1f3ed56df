package storage

import "testing"

func TestBuildReceiptPathDefaultsFileName(t *testing.T) {
	path, err := BuildObjectPath(KindReceipt, PathParams{OrderID: "ord_01HZX"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "receipts/orders/ord_01HZX/receipt.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	for _, params := range []PathParams{
		{OrderID: "../bad"},
		{OrderID: "ord/1"},
		{OrderID: ""},
		{OrderID: "ord_1", FileName: `..\receipt.json`},
	} {
		if _, err := BuildObjectPath(KindReceipt, params); err == nil {
			t.Fatalf("expected error for %+v", params)
		}
	}
}

func TestBuildObjectPathUnknownKind(t *testing.T) {
	if _, err := BuildObjectPath("invoice", PathParams{OrderID: "ord_1"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
