package storage

import "testing"

func TestCSVObjectKey(t *testing.T) {
	key, err := CSVObjectKey("exports/2026/", "orders")
	if err != nil {
		t.Fatalf("CSVObjectKey() error = %v", err)
	}
	if want := "exports/2026/orders.csv"; key != want {
		t.Fatalf("CSVObjectKey() = %q, want %q", key, want)
	}
}

func TestCSVObjectKeyAddsMissingSeparator(t *testing.T) {
	key, err := CSVObjectKey("exports", "orders")
	if err != nil {
		t.Fatalf("CSVObjectKey() error = %v", err)
	}
	if want := "exports/orders.csv"; key != want {
		t.Fatalf("CSVObjectKey() = %q, want %q", key, want)
	}
}

func TestCSVObjectKeyAtBucketRoot(t *testing.T) {
	key, err := CSVObjectKey("", "orders")
	if err != nil {
		t.Fatalf("CSVObjectKey() error = %v", err)
	}
	if want := "orders.csv"; key != want {
		t.Fatalf("CSVObjectKey() = %q, want %q", key, want)
	}
}

func TestCSVObjectKeyRejectsInvalidName(t *testing.T) {
	for _, name := range []string{"", "../oops", "a/b", ".hidden"} {
		if _, err := CSVObjectKey("exports/", name); err == nil {
			t.Fatalf("CSVObjectKey(%q) accepted an invalid name", name)
		}
	}
}
