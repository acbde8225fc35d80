package utils

import (
	"reflect"
	"testing"
)

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Fatalf("expected [3 1 2] in first-seen order, got %v", got)
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("+16502530000", "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "+16502530000" {
		t.Fatalf("unexpected E.164 form %q", got)
	}
	if _, err := NormalizePhoneNumber("12", "US"); err == nil {
		t.Fatalf("expected error for short number")
	}
	if got, err := NormalizePhoneNumber("  ", "US"); err != nil || got != "" {
		t.Fatalf("blank phone should pass through empty, got %q %v", got, err)
	}
}

func TestValidateStruct(t *testing.T) {
	type in struct {
		Name string `validate:"required"`
	}
	err := ValidateStruct(in{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if m := ProcessValidationErrors(err); m["Name"] != "required" {
		t.Fatalf("unexpected error map %v", m)
	}
}
