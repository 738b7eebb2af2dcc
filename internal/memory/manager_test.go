package memory

import (
	"context"
	"testing"

	"github.com/corewire/agentkernel/internal/permission"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestManagerUpsertPrivateResolvesBotScope(t *testing.T) {
	m := NewManager(NewLongTerm(nil, nil), permission.New())

	item := &kernel.MemoryItem{ID: "i1", AgentID: "agent1", Scope: kernel.ScopeLogicalPrivate, Content: "note"}
	if err := m.Upsert(context.Background(), "mod1", item); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if item.Scope != "bot:mod1" {
		t.Fatalf("expected scope bot:mod1, got %q", item.Scope)
	}
}

func TestManagerUpsertSharedDeniedWithoutGrant(t *testing.T) {
	m := NewManager(NewLongTerm(nil, nil), permission.New())

	item := &kernel.MemoryItem{ID: "i2", AgentID: "agent1", Scope: kernel.ScopeLogicalShared, Content: "note"}
	err := m.Upsert(context.Background(), "mod1", item)
	if err == nil {
		t.Fatal("expected permission error, got nil")
	}
}

func TestManagerUpsertSharedAllowedWithGrant(t *testing.T) {
	perms := permission.New()
	if err := perms.Grant("mod1", []kernel.Permission{kernel.PermissionMemorySharedWrite}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	m := NewManager(NewLongTerm(nil, nil), perms)

	item := &kernel.MemoryItem{ID: "i3", AgentID: "agent1", Scope: kernel.ScopeLogicalShared, Content: "note"}
	if err := m.Upsert(context.Background(), "mod1", item); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if item.Scope != kernel.ScopeSharedWorkspace {
		t.Fatalf("expected workspace:shared, got %q", item.Scope)
	}
}

func TestManagerWorkingForReusesBuffer(t *testing.T) {
	m := NewManager(NewLongTerm(nil, nil), nil)

	w1 := m.WorkingFor("exec1", "gpt-4")
	w2 := m.WorkingFor("exec1", "gpt-4")
	if w1 != w2 {
		t.Fatal("expected same working memory instance for same execution")
	}

	m.DropWorking("exec1")
	w3 := m.WorkingFor("exec1", "gpt-4")
	if w3 == w1 {
		t.Fatal("expected fresh working memory instance after DropWorking")
	}
}
