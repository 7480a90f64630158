package session

import "testing"

func TestNewSessionStartsRunning(t *testing.T) {
	s := New("user-1", "list files", 15)
	if s.Status() != StatusRunning {
		t.Fatalf("expected running, got %s", s.Status())
	}
	if s.ID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if s.Iterations() != 0 {
		t.Fatalf("expected 0 iterations, got %d", s.Iterations())
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"running to waiting", StatusRunning, StatusWaitingUser, false},
		{"running to completed", StatusRunning, StatusCompleted, false},
		{"running to failed", StatusRunning, StatusFailed, false},
		{"running to cancelled", StatusRunning, StatusCancelled, false},
		{"waiting to running", StatusWaitingUser, StatusRunning, false},
		{"waiting to cancelled", StatusWaitingUser, StatusCancelled, false},
		{"waiting to failed", StatusWaitingUser, StatusFailed, false},
		{"waiting to completed", StatusWaitingUser, StatusCompleted, true},
		{"completed is terminal", StatusCompleted, StatusRunning, true},
		{"failed is terminal", StatusFailed, StatusRunning, true},
		{"cancelled is terminal", StatusCancelled, StatusWaitingUser, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("u", "obj", 10)
			s.status = tt.from
			err := s.Transition(tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s -> %s", tt.from, tt.to)
				}
				if s.Status() != tt.from {
					t.Fatalf("failed transition must not change status, got %s", s.Status())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Status() != tt.to {
				t.Fatalf("expected %s, got %s", tt.to, s.Status())
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		s := New("u", "obj", 10)
		s.status = st
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", st)
		}
	}
	for _, st := range []Status{StatusRunning, StatusWaitingUser} {
		s := New("u", "obj", 10)
		s.status = st
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", st)
		}
	}
}

func TestNextIteration(t *testing.T) {
	s := New("u", "obj", 10)
	if got := s.NextIteration(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := s.NextIteration(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := s.Iterations(); got != 2 {
		t.Fatalf("expected 2 iterations, got %d", got)
	}
}
