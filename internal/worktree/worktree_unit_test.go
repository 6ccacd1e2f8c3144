package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type mockCall struct {
	dir  string
	name string
	args []string
}

// mockExecutor is a test double for CommandExecutor
type mockExecutor struct {
	calls      []mockCall
	runOutputs [][]byte
	runErrors  []error
	callIndex  int
}

func (m *mockExecutor) addResponse(output []byte, err error) {
	m.runOutputs = append(m.runOutputs, output)
	m.runErrors = append(m.runErrors, err)
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.runOutputs) {
		return m.runOutputs[idx], m.runErrors[idx]
	}
	return nil, nil
}

const samplePorcelain = `worktree /repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /repo-sessions/feature-x
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feature/x

worktree /repo-sessions/bisect
HEAD 3333333333333333333333333333333333333333
detached

`

func TestParsePorcelain(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Worktree
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "main, branch and detached",
			input: samplePorcelain,
			want: []Worktree{
				{Path: "/repo", Head: "1111111111111111111111111111111111111111", Branch: "main"},
				{Path: "/repo-sessions/feature-x", Head: "2222222222222222222222222222222222222222", Branch: "feature/x"},
				{Path: "/repo-sessions/bisect", Head: "3333333333333333333333333333333333333333", Detached: true},
			},
		},
		{
			name:  "bare without trailing blank line",
			input: "worktree /srv/repo.git\nbare",
			want:  []Worktree{{Path: "/srv/repo.git", Bare: true}},
		},
		{
			name:  "windows line endings",
			input: "worktree C:/repo\r\nHEAD abc\r\nbranch refs/heads/main\r\n\r\n",
			want:  []Worktree{{Path: "C:/repo", Head: "abc", Branch: "main"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePorcelain(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parsePorcelain() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestManagerList(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse([]byte(samplePorcelain), nil)
	m := NewWithExecutor("/repo", mock)

	got, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d worktrees, want 3", len(got))
	}

	call := mock.calls[0]
	if call.dir != "/repo" || call.name != "git" || strings.Join(call.args, " ") != "worktree list --porcelain" {
		t.Errorf("unexpected call %+v", call)
	}
}

func TestManagerListError(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse([]byte("fatal: not a git repository"), fmt.Errorf("exit status 128"))
	m := NewWithExecutor("/nowhere", mock)

	_, err := m.List()
	if err == nil {
		t.Fatal("List() expected error")
	}
	if !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("error %q should carry git output", err)
	}
}

func TestManagerMainWorktree(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse([]byte(samplePorcelain), nil)
	main, err := NewWithExecutor("/repo", mock).MainWorktree()
	if err != nil {
		t.Fatalf("MainWorktree() error = %v", err)
	}
	if main.Path != "/repo" || main.Branch != "main" {
		t.Errorf("MainWorktree() = %+v", main)
	}

	empty := &mockExecutor{}
	empty.addResponse(nil, nil)
	if _, err := NewWithExecutor("/repo", empty).MainWorktree(); err == nil {
		t.Error("MainWorktree() with no worktrees expected error")
	}
}

func TestManagerFind(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "project")
	session := filepath.Join(project, ".sessions", "feature-x")
	nested := filepath.Join(session, "src", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	porcelain := fmt.Sprintf("worktree %s\nbranch refs/heads/main\n\nworktree %s\nbranch refs/heads/feature-x\n\n", project, session)

	tests := []struct {
		name       string
		path       string
		wantBranch string
		wantErr    bool
	}{
		{"project root", project, "main", false},
		{"session root", session, "feature-x", false},
		{"nested in session picks deepest", nested, "feature-x", false},
		{"outside every worktree", t.TempDir(), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockExecutor{}
			mock.addResponse([]byte(porcelain), nil)
			got, err := NewWithExecutor(project, mock).Find(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Find() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Branch != tt.wantBranch {
				t.Errorf("Find() branch = %q, want %q", got.Branch, tt.wantBranch)
			}
		})
	}
}

func TestManagerGetBranch(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse([]byte("feature/x\n"), nil)
	m := NewWithExecutor("/repo", mock)

	got, err := m.GetBranch("/repo-sessions/feature-x")
	if err != nil {
		t.Fatalf("GetBranch() error = %v", err)
	}
	if got != "feature/x" {
		t.Errorf("GetBranch() = %q, want feature/x", got)
	}
	if mock.calls[0].dir != "/repo-sessions/feature-x" {
		t.Errorf("GetBranch() ran in %q, want the worktree path", mock.calls[0].dir)
	}
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		root, path string
		want       bool
	}{
		{sep + "a", sep + "a", true},
		{sep + "a", filepath.Join(sep+"a", "b"), true},
		{sep + "a", sep + "ab", false},
		{filepath.Join(sep+"a", "b"), sep + "a", false},
		{sep + "a", filepath.Join(sep+"a", "..b"), true},
	}
	for _, tt := range tests {
		if got := within(tt.root, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"", 10, ""},
	}
	for _, tt := range tests {
		if got := truncateOutput(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncateOutput(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}
