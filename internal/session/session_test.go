package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/biocypher/biochatter/internal/chat"
	"github.com/biocypher/biochatter/internal/conversation"
	"github.com/biocypher/biochatter/internal/prompt"
	"github.com/biocypher/biochatter/internal/session"
	"github.com/biocypher/biochatter/internal/stats"
	"github.com/biocypher/biochatter/internal/testutil"
)

func acceptAnyKey(context.Context, string) error { return nil }

func rejectAllKeys(context.Context, string) error {
	return errors.New("401 invalid api key")
}

func newController(t *testing.T, validate session.KeyValidator, recorder stats.Recorder) (*session.Controller, *testutil.MockLLM) {
	t.Helper()

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockLLM("a model reply")

	agent, err := chat.New(chat.Config{
		Genkit:  g,
		Model:   mock.RegisterModel(g),
		Prompts: prompt.Default(),
		Logger:  testutil.QuietLogger(),
	})
	if err != nil {
		t.Fatalf("new agent failed: %v", err)
	}

	ctrl, err := session.New(session.Config{
		Agent:       agent,
		ValidateKey: validate,
		Stats:       recorder,
		Model:       "gpt-4",
		Logger:      testutil.QuietLogger(),
	})
	if err != nil {
		t.Fatalf("new controller failed: %v", err)
	}
	return ctrl, mock
}

func mustHandle(t *testing.T, ctrl *session.Controller, input string) []session.Event {
	t.Helper()
	events, err := ctrl.Handle(context.Background(), input)
	if err != nil {
		t.Fatalf("handle %q failed: %v", input, err)
	}
	return events
}

func TestSetupFlowTransitions(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)

	steps := []struct {
		input string
		want  session.State
	}{
		{input: "sk-valid-key", want: session.StateGettingName},
		{input: "Ada", want: session.StateGettingContext},
		{input: "glioblastoma", want: session.StateGettingDataFileInput},
		{input: "no", want: session.StateGettingDataFileDescription},
		{input: "EGFR is amplified.", want: session.StateChat},
	}

	if ctrl.State() != session.StateGettingKey {
		t.Fatalf("expected initial state getting_key, got %q", ctrl.State())
	}

	for _, step := range steps {
		events := mustHandle(t, ctrl, step.input)
		if len(events) == 0 {
			t.Errorf("input %q: expected events", step.input)
		}
		if ctrl.State() != step.want {
			t.Fatalf("input %q: expected state %q, got %q", step.input, step.want, ctrl.State())
		}
	}

	if ctrl.Session().UserName != "Ada" {
		t.Errorf("expected user name recorded, got %q", ctrl.Session().UserName)
	}
	if ctrl.Session().Context != "glioblastoma" {
		t.Errorf("expected context recorded, got %q", ctrl.Session().Context)
	}
}

func TestInvalidKeyStaysInGettingKey(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, rejectAllKeys, nil)

	events := mustHandle(t, ctrl, "sk-bad")
	if ctrl.State() != session.StateGettingKey {
		t.Errorf("expected to remain in getting_key, got %q", ctrl.State())
	}
	if len(events) != 1 || !strings.Contains(events[0].Text, "not valid") {
		t.Errorf("expected invalid-key notice, got %v", events)
	}

	// Community keyword bypasses validation.
	mustHandle(t, ctrl, "community")
	if ctrl.State() != session.StateGettingName {
		t.Errorf("expected community keyword to advance, got %q", ctrl.State())
	}
	if !ctrl.Session().CommunityKey {
		t.Error("expected community key flag set")
	}
}

func TestChatTurnEmitsReply(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	for _, input := range []string{"key", "Ada", "oncology", "no", "some data"} {
		mustHandle(t, ctrl, input)
	}

	events := mustHandle(t, ctrl, "What does this mean?")
	var reply string
	for _, e := range events {
		if e.Kind == session.EventReply {
			reply = e.Text
		}
	}
	if reply != "a model reply" {
		t.Errorf("expected model reply event, got %v", events)
	}
	if ctrl.State() != session.StateChat {
		t.Errorf("expected to stay in chat, got %q", ctrl.State())
	}
}

func TestToolFileInjection(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	for _, input := range []string{"key", "Ada", "oncology"} {
		mustHandle(t, ctrl, input)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "progeny_results.csv")
	if err := os.WriteFile(path, []byte("pathway,activity\nMAPK,1.5"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	events := mustHandle(t, ctrl, path)
	if ctrl.State() != session.StateGettingDataFileDescription {
		t.Fatalf("expected getting_data_file_description, got %q", ctrl.State())
	}
	if !strings.Contains(events[0].Text, "progeny") {
		t.Errorf("expected tool acknowledgement, got %v", events)
	}

	// Declining the extra description moves to chat without a manual input.
	events = mustHandle(t, ctrl, "no")
	if ctrl.State() != session.StateChat {
		t.Errorf("expected chat state, got %q", ctrl.State())
	}
	if !strings.Contains(events[0].Text, "without further specification") {
		t.Errorf("unexpected events: %v", events)
	}
}

func TestUnreadableFileReprompts(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	for _, input := range []string{"key", "Ada", "oncology"} {
		mustHandle(t, ctrl, input)
	}

	events := mustHandle(t, ctrl, "/definitely/not/a/file.csv")
	if ctrl.State() != session.StateGettingDataFileInput {
		t.Errorf("expected to remain in getting_data_file_input, got %q", ctrl.State())
	}
	if !strings.Contains(events[0].Text, "could not read") {
		t.Errorf("expected read failure notice, got %v", events)
	}
}

// countingRecorder records Increment calls.
type countingRecorder struct {
	mu    sync.Mutex
	calls int
	user  string
}

func (r *countingRecorder) Increment(_ context.Context, user, _ string, _ conversation.TokenUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.user = user
	return nil
}

func TestCommunityKeyRecordsUsage(t *testing.T) {
	t.Parallel()

	recorder := &countingRecorder{}
	ctrl, _ := newController(t, acceptAnyKey, recorder)

	for _, input := range []string{"community", "Ada", "oncology", "no", "data"} {
		mustHandle(t, ctrl, input)
	}
	mustHandle(t, ctrl, "a question")

	if recorder.calls != 1 {
		t.Fatalf("expected 1 usage record, got %d", recorder.calls)
	}
	if recorder.user != stats.CommunityUser {
		t.Errorf("expected community user, got %q", recorder.user)
	}
}

func TestIndividualKeyDoesNotRecordUsage(t *testing.T) {
	t.Parallel()

	recorder := &countingRecorder{}
	ctrl, _ := newController(t, acceptAnyKey, recorder)

	for _, input := range []string{"sk-own-key", "Ada", "oncology", "no", "data"} {
		mustHandle(t, ctrl, input)
	}
	mustHandle(t, ctrl, "a question")

	if recorder.calls != 0 {
		t.Errorf("expected no usage records for individual key, got %d", recorder.calls)
	}
}

func TestResetReturnsFreshSession(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	for _, input := range []string{"key", "Ada", "oncology"} {
		mustHandle(t, ctrl, input)
	}

	fresh := ctrl.Reset()
	if fresh.State != session.StateGettingKey {
		t.Errorf("expected fresh session in getting_key, got %q", fresh.State)
	}
	if fresh.UserName != "" || fresh.Context != "" {
		t.Errorf("expected empty session, got %+v", fresh)
	}
	if ctrl.State() != session.StateGettingKey {
		t.Errorf("controller not reset: %q", ctrl.State())
	}
}

func TestResetAllowsFullSecondFlow(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	flow := []string{"key", "Ada", "oncology", "no", "some data"}

	for _, input := range flow {
		mustHandle(t, ctrl, input)
	}
	mustHandle(t, ctrl, "first question")

	ctrl.Reset()

	// The whole setup flow must work again, research-context step included.
	for _, input := range flow {
		mustHandle(t, ctrl, input)
	}
	if ctrl.State() != session.StateChat {
		t.Fatalf("expected chat state after second flow, got %q", ctrl.State())
	}

	events := mustHandle(t, ctrl, "second question")
	var reply string
	for _, e := range events {
		if e.Kind == session.EventReply {
			reply = e.Text
		}
	}
	if reply != "a model reply" {
		t.Errorf("expected model reply after reset flow, got %v", events)
	}
}

func TestDemoScriptWalksToChat(t *testing.T) {
	t.Parallel()

	ctrl, _ := newController(t, acceptAnyKey, nil)
	player := session.NewDemoPlayer(nil)

	for {
		input, ok := player.Next()
		if !ok {
			break
		}
		mustHandle(t, ctrl, input)
	}

	if ctrl.State() != session.StateChat {
		t.Errorf("expected demo script to end in chat, got %q", ctrl.State())
	}
	if !ctrl.Session().CommunityKey {
		t.Error("expected demo session on community key")
	}
}
