package registry

import "testing"

func TestSkills(t *testing.T) {
	r := New()

	if _, ok := r.Skill("a", "analyst"); ok {
		t.Fatalf("unknown skill should be absent")
	}

	r.SetSkill("a", "analyst", 0.7)
	if level, ok := r.Skill("a", "analyst"); !ok || level != 0.7 {
		t.Fatalf("skill = %v ok=%v, want 0.7", level, ok)
	}

	// Levels clamp into [0, 1].
	r.SetSkill("a", "scout", 1.5)
	if level, _ := r.Skill("a", "scout"); level != 1 {
		t.Fatalf("clamped high = %v, want 1", level)
	}
	r.SetSkill("a", "trader", -0.2)
	if level, _ := r.Skill("a", "trader"); level != 0 {
		t.Fatalf("clamped low = %v, want 0", level)
	}
}

func TestRoleBindings(t *testing.T) {
	r := New()

	r.BindRole("c1", "agent-b", "scout")
	r.BindRole("c1", "agent-a", "scout")
	r.BindRole("c1", "agent-c", "trader")
	r.RegisterRole("c1", "analyst")

	got := r.AgentsWithRole("c1", "scout")
	if len(got) != 2 || got[0] != "agent-a" || got[1] != "agent-b" {
		t.Fatalf("scouts = %v, want sorted [agent-a agent-b]", got)
	}

	roles := r.Roles("c1")
	if len(roles) != 3 || roles[0] != "analyst" || roles[1] != "scout" || roles[2] != "trader" {
		t.Fatalf("roles = %v", roles)
	}

	// Re-binding replaces the agent's role within the collective.
	r.BindRole("c1", "agent-a", "trader")
	if got := r.AgentsWithRole("c1", "scout"); len(got) != 1 || got[0] != "agent-b" {
		t.Fatalf("scouts after re-bind = %v", got)
	}
	if got := r.AgentsWithRole("c1", "trader"); len(got) != 2 {
		t.Fatalf("traders after re-bind = %v", got)
	}

	// Bindings are per collective.
	if got := r.AgentsWithRole("c2", "scout"); len(got) != 0 {
		t.Fatalf("c2 scouts = %v, want none", got)
	}

	r.UnbindRole("c1", "agent-b")
	if got := r.AgentsWithRole("c1", "scout"); len(got) != 0 {
		t.Fatalf("scouts after unbind = %v", got)
	}
	// The role itself stays registered.
	if roles := r.Roles("c1"); len(roles) != 3 {
		t.Fatalf("roles after unbind = %v", roles)
	}
}

func TestCollectivesAndMembers(t *testing.T) {
	r := New()
	r.BindRole("c2", "a", "scout")
	r.BindRole("c1", "b", "trader")

	if got := r.Collectives(); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("collectives = %v", got)
	}

	members := r.Members("c2")
	if len(members) != 1 || members["a"] != "scout" {
		t.Fatalf("members = %v", members)
	}
}
