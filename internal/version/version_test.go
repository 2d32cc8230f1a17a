package version

import (
	"runtime/debug"
	"testing"
)

func TestApplySettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-03-10T07:30:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	out := Info{Commit: "none"}
	applySettings(&out, settings)
	if out.Commit != "abc123" || out.CommitDate != "2026-03-10T07:30:00Z" || out.BuildDate != out.CommitDate {
		t.Fatalf("info = %+v", out)
	}
	if out.VCSDirty == nil || !*out.VCSDirty {
		t.Fatalf("VCSDirty = %v, want true", out.VCSDirty)
	}
}

func TestApplySettings_LdflagsWin(t *testing.T) {
	clean := false
	out := Info{Commit: "release-sha", BuildDate: "2026-01-01", VCSDirty: &clean}
	applySettings(&out, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-03-10T07:30:00Z"},
		{Key: "vcs.modified", Value: "true"},
	})
	if out.Commit != "release-sha" || out.BuildDate != "2026-01-01" || *out.VCSDirty {
		t.Fatalf("info = %+v", out)
	}
}

func TestGet_UsesPackageVars(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.4.0"
	if got := Get().Version; got != "1.4.0" {
		t.Fatalf("Version = %q", got)
	}
}

func TestLogFields(t *testing.T) {
	f := Info{Version: "1.0.0"}.LogFields()
	if len(f)%2 != 0 || f[0] != "app" || f[1] != AppName {
		t.Fatalf("fields = %v", f)
	}
}
