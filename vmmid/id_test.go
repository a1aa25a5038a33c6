package vmmid

import "testing"

func TestNewRejectsTooShort(t *testing.T) {
	for l := 0; l < minLength; l++ {
		s := make([]byte, l)
		for i := range s {
			s[i] = 'a'
		}
		if _, err := New(string(s)); err == nil {
			t.Errorf("length %d: expected error, got none", l)
		}
	}
}

func TestNewRejectsTooLong(t *testing.T) {
	s := make([]byte, maxLength+1)
	for i := range s {
		s[i] = 'a'
	}
	if _, err := New(string(s)); err == nil {
		t.Error("expected error for id longer than 60 chars")
	}
}

func TestNewRejectsInvalidCharacters(t *testing.T) {
	for _, c := range []byte{'~', '_', '$', '#', '+', ' '} {
		s := make([]byte, 10)
		for i := range s {
			s[i] = c
		}
		if _, err := New(string(s)); err == nil {
			t.Errorf("character %q: expected error, got none", c)
		}
	}
}

func TestNewAcceptsValid(t *testing.T) {
	for _, s := range []string{"vmm-id", "longer-id", "L1Nda74-", "very-loNg-ID"} {
		if _, err := New(s); err != nil {
			t.Errorf("%q: unexpected error: %v", s, err)
		}
	}
}

func TestNewBoundaryLengths(t *testing.T) {
	five := "abcde"
	if _, err := New(five); err != nil {
		t.Errorf("5-char id should be accepted: %v", err)
	}

	sixty := make([]byte, maxLength)
	for i := range sixty {
		sixty[i] = 'a'
	}
	if _, err := New(string(sixty)); err != nil {
		t.Errorf("60-char id should be accepted: %v", err)
	}

	four := "abcd"
	if _, err := New(four); err == nil {
		t.Error("4-char id should be rejected")
	}

	sixtyOne := make([]byte, maxLength+1)
	for i := range sixtyOne {
		sixtyOne[i] = 'a'
	}
	if _, err := New(string(sixtyOne)); err == nil {
		t.Error("61-char id should be rejected")
	}
}

func TestGenerateProducesValidID(t *testing.T) {
	id := Generate("vmm-")
	if _, err := New(string(id)); err != nil {
		t.Errorf("generated id failed validation: %v", err)
	}
}
