package search

import "testing"

func TestContextBlock(t *testing.T) {
	results := []Result{
		{Type: ResultTask, Title: "Design banner", Status: "todo", Snippet: "hero banner for launch"},
		{Type: ResultProject, Title: "Launch", Snippet: "Q4 marketing launch"},
	}
	got := ContextBlock(results)
	want := "Relevant items:\n" +
		"- [task] Design banner (todo): hero banner for launch\n" +
		"- [project] Launch: Q4 marketing launch"
	if got != want {
		t.Fatalf("ContextBlock() = %q, want %q", got, want)
	}
}

func TestContextBlockEmpty(t *testing.T) {
	if got := ContextBlock(nil); got != "" {
		t.Fatalf("ContextBlock(nil) = %q, want empty", got)
	}
}

func TestFilterByProjects(t *testing.T) {
	results := []Result{
		{Type: ResultTask, ID: "tsk_1", ProjectID: "prj_1"},
		{Type: ResultTask, ID: "tsk_2", ProjectID: "prj_2"},
		{Type: ResultProject, ID: "prj_1", ProjectID: "prj_1"},
	}

	filtered := filterByProjects(results, map[string]bool{"prj_1": true})
	if len(filtered) != 2 {
		t.Fatalf("expected 2 results, got %d", len(filtered))
	}
	for _, r := range filtered {
		if r.ProjectID != "prj_1" {
			t.Errorf("unexpected project in results: %s", r.ProjectID)
		}
	}

	// nil set means no additional filtering
	if got := filterByProjects(results, nil); len(got) != 3 {
		t.Fatalf("expected passthrough with nil set, got %d", len(got))
	}
}
