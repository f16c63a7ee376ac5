package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusPending, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDocumentTransition(t *testing.T) {
	doc := &Document{Status: StatusPending}
	if err := doc.Transition(StatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := doc.Transition(StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if doc.Status != StatusProcessing {
		t.Errorf("status changed on rejected transition: %s", doc.Status)
	}
}

func TestParseDocumentStatus(t *testing.T) {
	for status, name := range statusNames {
		got, err := ParseDocumentStatus(" " + name + " ")
		if err != nil {
			t.Fatalf("ParseDocumentStatus(%q) error: %v", name, err)
		}
		if got != status {
			t.Errorf("ParseDocumentStatus(%q) = %s, want %s", name, got, status)
		}
	}
	if _, err := ParseDocumentStatus("uploading"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestJobValidate(t *testing.T) {
	id := NewDocumentID()
	if err := NewProcessJob(id).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NewReprocessJob(id).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Job{Kind: 99, DocumentID: id}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown kind, got %v", err)
	}
	if err := (Job{Kind: JobProcessDocument}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing id, got %v", err)
	}
}

func TestCancelled(t *testing.T) {
	if Cancelled(nil) != nil {
		t.Error("Cancelled(nil) should be nil")
	}
	err := Cancelled(context.Canceled)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
	other := errors.New("boom")
	if Cancelled(other) != other {
		t.Error("non-context errors should pass through unchanged")
	}
}
