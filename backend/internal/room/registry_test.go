package room

import (
	"testing"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
)

func canvasDef(id string) canvas.ComponentDef {
	return canvas.ComponentDef{ID: id, Type: canvas.TypeLine}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	g := NewRegistry()
	r := g.Create("design review", 1, Public, "")
	if r.ID == "" {
		t.Fatalf("Create() returned empty room id")
	}

	got, ok := g.Get(r.ID)
	if !ok || got != r {
		t.Fatalf("Get(%s) = (%v, %v), want created room", r.ID, got, ok)
	}
	if !r.IsMember(1) {
		t.Fatalf("owner is not a member of the new room")
	}
}

func TestRegistry_DeleteOnlyByOwner(t *testing.T) {
	g := NewRegistry()
	r := g.Create("mine", 1, Public, "")

	if _, err := g.Delete(r.ID, 2); err != ErrNotOwner {
		t.Fatalf("Delete(non-owner) error = %v, want ErrNotOwner", err)
	}
	if _, err := g.Delete(r.ID, 1); err != nil {
		t.Fatalf("Delete(owner) error = %v", err)
	}
	if _, ok := g.Get(r.ID); ok {
		t.Fatalf("room still resolvable after delete")
	}
	if _, err := g.Delete(r.ID, 1); err != ErrRoomNotFound {
		t.Fatalf("Delete(deleted) error = %v, want ErrRoomNotFound", err)
	}
}

func TestRegistry_ListPublicSkipsPrivate(t *testing.T) {
	g := NewRegistry()
	g.Create("open", 1, Public, "")
	g.Create("secret", 1, Private, "")
	g.Create("guarded", 1, Public, "hunter2")

	infos := g.ListPublic()
	if len(infos) != 2 {
		t.Fatalf("ListPublic() len = %d, want 2", len(infos))
	}
	for _, info := range infos {
		if info.Visibility != Public {
			t.Fatalf("ListPublic() returned private room %s", info.ID)
		}
		if info.Name == "guarded" && !info.PasswordProtected {
			t.Fatalf("guarded room not marked passwordProtected")
		}
	}
}

func TestRoom_AdmitRules(t *testing.T) {
	g := NewRegistry()

	open := g.Create("open", 1, Public, "")
	if err := open.Admit(42, ""); err != nil {
		t.Fatalf("Admit(public, stranger) error = %v, want nil", err)
	}

	private := g.Create("private", 1, Private, "")
	if err := private.Admit(42, ""); err != ErrAccessDenied {
		t.Fatalf("Admit(private, stranger) error = %v, want ErrAccessDenied", err)
	}
	private.AddMember(42)
	if err := private.Admit(42, ""); err != nil {
		t.Fatalf("Admit(private, member) error = %v, want nil", err)
	}

	guarded := g.Create("guarded", 1, Public, "hunter2")
	if err := guarded.Admit(42, ""); err != ErrPasswordRequired {
		t.Fatalf("Admit(guarded, no password) error = %v, want ErrPasswordRequired", err)
	}
	if err := guarded.Admit(42, "wrong"); err != ErrPasswordRequired {
		t.Fatalf("Admit(guarded, wrong password) error = %v, want ErrPasswordRequired", err)
	}
	if err := guarded.Admit(42, "hunter2"); err != nil {
		t.Fatalf("Admit(guarded, correct password) error = %v, want nil", err)
	}
}

func TestRoom_CloseFlushesState(t *testing.T) {
	g := NewRegistry()
	r := g.Create("doomed", 1, Public, "")

	err := r.Sync(func() error {
		_, err := r.Canvas.Create(canvasDef("L1"))
		return err
	})
	if err != nil {
		t.Fatalf("Sync(create) error = %v", err)
	}

	r.Close()

	if err := r.Admit(1, ""); err != ErrRoomClosed {
		t.Fatalf("Admit(closed room) error = %v, want ErrRoomClosed", err)
	}
	if err := r.Sync(func() error { return nil }); err != ErrRoomClosed {
		t.Fatalf("Sync(closed room) error = %v, want ErrRoomClosed", err)
	}
	if r.Canvas.Len() != 0 {
		t.Fatalf("closed room still holds %d components", r.Canvas.Len())
	}
}

func TestRegistry_ListFor(t *testing.T) {
	g := NewRegistry()
	owned := g.Create("mine", 1, Private, "")
	invited := g.Create("theirs", 2, Private, "")
	invited.AddMember(1)
	g.Create("unrelated", 3, Public, "")

	got := g.ListFor(1)
	if len(got) != 2 {
		t.Fatalf("ListFor(1) returned %d rooms, want 2", len(got))
	}
	ids := map[string]bool{}
	for _, info := range got {
		ids[info.ID] = true
	}
	if !ids[owned.ID] || !ids[invited.ID] {
		t.Fatalf("ListFor(1) = %v, want {%s, %s}", ids, owned.ID, invited.ID)
	}

	if n := len(g.ListFor(9)); n != 0 {
		t.Fatalf("ListFor(stranger) returned %d rooms, want 0", n)
	}
}
