package utils

import (
	"testing"
)

func TestHasAnySuffixFold(t *testing.T) {
	exts := []string{".csv", ".json", ".xml"}
	if !HasAnySuffixFold("datastore/source1.CSV", exts) {
		t.Fatal("upper case extension should match")
	}
	if !HasAnySuffixFold("a.xml", exts) {
		t.Fatal("xml should match")
	}
	if HasAnySuffixFold("a.txt", exts) {
		t.Fatal("txt should not match")
	}
	if HasAnySuffixFold("csv", exts) {
		t.Fatal("bare name without dot should not match")
	}
}

func TestGetEnvOrDefaultBool(t *testing.T) {
	t.Setenv("ETL_TEST_BOOL", "1")
	b, err := GetEnvOrDefaultBool("ETL_TEST_BOOL", false)
	if err != nil {
		t.Fatal(err)
	}
	if !b {
		t.Fatal("expected true")
	}

	t.Setenv("ETL_TEST_BOOL", "nope")
	if _, err := GetEnvOrDefaultBool("ETL_TEST_BOOL", false); err == nil {
		t.Fatal("expected parse error")
	}

	b, err = GetEnvOrDefaultBool("ETL_TEST_BOOL_UNSET", true)
	if err != nil || !b {
		t.Fatal("expected default")
	}
}

func TestGetEnvOrDefaultInt(t *testing.T) {
	t.Setenv("ETL_TEST_INT", "70000")
	i, err := GetEnvOrDefaultInt("ETL_TEST_INT", 1)
	if err != nil {
		t.Fatal(err)
	}
	if i != 70000 {
		t.Fatalf("got %d", i)
	}
}

func TestGenKSortedID(t *testing.T) {
	a := GenKSortedID("run_")
	if len(a) != len("run_")+27 {
		t.Fatalf("unexpected id length %q", a)
	}
}
