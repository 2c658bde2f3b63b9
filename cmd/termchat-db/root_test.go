package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aeolun/termchat/pkg/crypto"
	"github.com/aeolun/termchat/pkg/database"
	"github.com/aeolun/termchat/pkg/events"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type testEnv struct {
	dir    string
	config string
	db     string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	t.Setenv("TERMCHAT_PASSPHRASE", "")
	t.Setenv("TERMCHAT_STORAGE_PATH", "")
	dir := t.TempDir()
	return testEnv{
		dir:    dir,
		config: filepath.Join(dir, "termchat.toml"),
		db:     filepath.Join(dir, "store.db"),
	}
}

func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config, "--db", e.db}, args...))

	err := cmd.Execute()
	return buf.String(), err
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func eventStream(t *testing.T, evs ...any) string {
	t.Helper()
	var lines []string
	for _, ev := range evs {
		data, err := events.Encode(ev)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n") + "\n"
}

func strp(s string) *string { return &s }

func i64p(v int64) *int64 { return &v }

var (
	ada     = uuid.MustParse("a0000000-0000-0000-0000-000000000001")
	grace   = uuid.MustParse("a0000000-0000-0000-0000-000000000002")
	channel = database.UserChannel(ada)
)

func seedStream(t *testing.T) string {
	return eventStream(t,
		events.ChannelUpdate{ID: channel, Name: "Ada"},
		events.MessageEvent{ArrivedAt: 1000, ChannelID: channel, FromID: ada, Body: strp("hello")},
		events.MessageEvent{ArrivedAt: 1001, ChannelID: channel, FromID: grace, Body: strp("hi back"), Quote: i64p(1000)},
		events.MessageEvent{ArrivedAt: 1002, ChannelID: channel, FromID: ada, Body: strp("hello!"), Edit: i64p(1000)},
		events.ReactionEvent{ArrivedAt: 1001, ChannelID: channel, ReactorID: ada, Emoji: strp("👍")},
	)
}

func TestRootCommandVersion(t *testing.T) {
	output, err := executeCommand(newRootCmd("test"), "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(output, "termchat-db version test") {
		t.Fatalf("expected version output, got %q", output)
	}
}

func TestIngestThenTimeline(t *testing.T) {
	env := newTestEnv(t)

	output, err := env.run(t, seedStream(t), "ingest", "-")
	if err != nil {
		t.Fatalf("ingest failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Applied 5 events") {
		t.Fatalf("unexpected ingest output %q", output)
	}

	output, err = env.run(t, "", "timeline", "--all", channel.String())
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	for _, want := range []string{"hello!", "(edited)", "hi back", "👍"} {
		if !strings.Contains(output, want) {
			t.Errorf("timeline output missing %q:\n%s", want, output)
		}
	}

	output, err = env.run(t, "", "edits", channel.String(), "1000")
	if err != nil {
		t.Fatalf("edits failed: %v", err)
	}
	if !strings.Contains(output, "hello") || !strings.Contains(output, "hello!") {
		t.Errorf("edits output missing history:\n%s", output)
	}

	output, err = env.run(t, "", "channels")
	if err != nil {
		t.Fatalf("channels failed: %v", err)
	}
	if !strings.Contains(output, "Ada") || !strings.Contains(output, "2 msgs") {
		t.Errorf("unexpected channels output:\n%s", output)
	}
}

func TestMessageNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "", "message", channel.String(), "42")
	if !errors.Is(err, database.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	_, err = env.run(t, "", "message", "not-a-channel", "42")
	if err == nil || !strings.Contains(err.Error(), "invalid channel") {
		t.Fatalf("expected invalid channel error, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, seedStream(t), "ingest", "-"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	snapshotPath := filepath.Join(env.dir, "snap.json")
	if output, err := env.run(t, "", "export", snapshotPath); err != nil {
		t.Fatalf("export failed: %v\n%s", err, output)
	}
	if info, err := os.Stat(snapshotPath); err != nil || info.Mode().Perm() != 0600 {
		t.Fatalf("snapshot not written privately: %v", err)
	}

	other := env
	other.db = filepath.Join(env.dir, "copy.db")
	output, err := other.run(t, "", "import", snapshotPath)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(output, "Imported 1 channels, 3 messages, 0 names") {
		t.Errorf("unexpected import output %q", output)
	}

	output, err = other.run(t, "", "metadata", "--json")
	if err != nil {
		t.Fatalf("metadata failed: %v", err)
	}
	if !strings.Contains(output, `"fully_migrated"`) || !strings.Contains(output, "true") {
		t.Errorf("import should mark the store migrated:\n%s", output)
	}
}

func TestMigrateReportsSchema(t *testing.T) {
	env := newTestEnv(t)
	output, err := env.run(t, "", "migrate", "--metrics")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(output, "schema:") || !strings.Contains(output, "0 channels, 0 messages, 0 names") {
		t.Errorf("unexpected migrate output:\n%s", output)
	}
	if !strings.Contains(output, "Store operations") {
		t.Errorf("expected metrics summary:\n%s", output)
	}
}

func TestEncryptedStoreNeedsPassphrase(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("TERMCHAT_PASSPHRASE", "hunter2")

	if _, err := env.run(t, seedStream(t), "ingest", "-"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !crypto.IsEncrypted(env.db) {
		t.Fatal("store should have a salt file")
	}

	output, err := env.run(t, "", "timeline", "--all", channel.String())
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if !strings.Contains(output, "hello!") {
		t.Errorf("encrypted store unreadable with passphrase:\n%s", output)
	}

	t.Setenv("TERMCHAT_PASSPHRASE", "")
	if _, err := env.run(t, "", "channels"); !errors.Is(err, errPassphraseRequired) {
		t.Errorf("expected errPassphraseRequired, got %v", err)
	}

	t.Setenv("TERMCHAT_PASSPHRASE", "wrong")
	if _, err := env.run(t, "", "channels"); !errors.Is(err, crypto.ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestPlaintextStoreRefusesPassphrase(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "", "migrate"); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	t.Setenv("TERMCHAT_PASSPHRASE", "hunter2")
	_, err := env.run(t, "", "channels")
	if err == nil || !strings.Contains(err.Error(), "unencrypted") {
		t.Fatalf("expected refusal, got %v", err)
	}
}
