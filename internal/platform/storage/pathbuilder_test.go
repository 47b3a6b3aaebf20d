package storage

import "testing"

func TestBuildPaymentProofPath(t *testing.T) {
	path, err := BuildObjectPath(PurposePaymentProof, PathParams{
		OrderID:  "ord_01J5K",
		FileName: "proof-01J5M.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "ord_01J5K/proof-01J5M.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildProductImagePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductImage, PathParams{
		ProductID: "prd_01J5K",
		FileName:  "cadeira.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "prd_01J5K/cadeira.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsTraversal(t *testing.T) {
	_, err := BuildObjectPath(PurposeFinalProduct, PathParams{
		OrderID:  "../bad",
		FileName: "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}

func TestBuildObjectPathRejectsUnknownPurpose(t *testing.T) {
	_, err := BuildObjectPath(UploadPurpose("avatars"), PathParams{OrderID: "ord_1", FileName: "a.png"})
	if err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}

func TestBuildObjectPathRejectsNestedFileName(t *testing.T) {
	_, err := BuildObjectPath(PurposePaymentProof, PathParams{
		OrderID:  "ord_1",
		FileName: "nested/file.png",
	})
	if err == nil {
		t.Fatalf("expected error for nested file name")
	}
}
