package capability

import (
	"context"
	"testing"
)

func noop(_ context.Context, _ map[string]any) (string, error) { return "", nil }

func desc(name, group string) Descriptor {
	return Descriptor{Name: name, Description: name, Group: group, Handler: noop}
}

func TestAddAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(desc("read_file", "read")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	d, ok := r.Get("read_file")
	if !ok {
		t.Fatal("expected capability to be found")
	}
	if d.Group != "read" {
		t.Errorf("group = %q, want read", d.Group)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing capability to not be found")
	}
}

func TestAddValidates(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Descriptor{Name: "", Group: "g", Handler: noop}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Add(Descriptor{Name: "x", Group: "g"}); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := r.Add(Descriptor{Name: "x", Handler: noop}); err == nil {
		t.Error("expected error for empty group")
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(desc("a", "g"))
	if !r.Remove("a") {
		t.Fatal("expected removal of existing capability to report true")
	}
	if r.Remove("a") {
		t.Fatal("expected second removal to report false")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected capability gone after removal")
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(desc("zeta", "g"))
	_ = r.Add(desc("alpha", "g"))
	_ = r.Add(desc("mid", "g"))

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[2].Name != "zeta" {
		t.Errorf("expected sorted order, got %v", []string{list[0].Name, list[1].Name, list[2].Name})
	}
}

func TestByGroups(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(desc("read_file", "read"))
	_ = r.Add(desc("search_web", "search"))
	_ = r.Add(desc("write_file", "write"))

	got := r.ByGroups("read", "search")
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].Name != "read_file" || got[1].Name != "search_web" {
		t.Errorf("unexpected selection: %v", []string{got[0].Name, got[1].Name})
	}
}

func TestGroups(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(desc("a", "write"))
	_ = r.Add(desc("b", "read"))
	_ = r.Add(desc("c", "read"))

	groups := r.Groups()
	if len(groups) != 2 || groups[0] != "read" || groups[1] != "write" {
		t.Fatalf("expected [read write], got %v", groups)
	}
}

func TestGroupInstructions(t *testing.T) {
	r := NewRegistry()
	r.SetGroupInstructions("read", "quote file paths verbatim")
	if got := r.GroupInstructions("read"); got != "quote file paths verbatim" {
		t.Errorf("instructions = %q", got)
	}
	if got := r.GroupInstructions("write"); got != "" {
		t.Errorf("expected empty for unset group, got %q", got)
	}
}

func TestSessionCopyIsDetached(t *testing.T) {
	base := NewRegistry()
	_ = base.Add(desc("read_file", "read"))
	base.SetGroupInstructions("read", "base instructions")

	cp := base.SessionCopy()

	// Hot-add on the base must not appear in the copy.
	_ = base.Add(desc("new_tool", "write"))
	if _, ok := cp.Get("new_tool"); ok {
		t.Fatal("session copy must not see later base additions")
	}

	// Session-scoped additions must not leak back.
	_ = cp.Add(desc("session_tool", "read"))
	if _, ok := base.Get("session_tool"); ok {
		t.Fatal("base registry must not see session-scoped additions")
	}

	if got := cp.GroupInstructions("read"); got != "base instructions" {
		t.Errorf("copy instructions = %q", got)
	}
}
