package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func frameNames(pcs []uintptr) []string {
	var out []string
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		out = append(out, fr.Function)
		if !more {
			break
		}
	}
	return out
}

func TestNew_MessageAndStack(t *testing.T) {
	err := New("copy failed")
	if err.Error() != "copy failed" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("New should capture a stack")
	}
	found := false
	for _, fn := range frameNames(hs.StackPCs()) {
		if strings.Contains(fn, "TestNew_MessageAndStack") {
			found = true
		}
	}
	if !found {
		t.Fatal("stack should contain the calling test")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("bucket %s has %d objects", "media", 3)
	if err.Error() != "bucket media has 3 objects" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	err := Wrapf(errSentinel, "copy %s", "a/b.jpg")
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find the wrapped sentinel")
	}
	if err.Error() != "copy a/b.jpg: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("Wrap should record the caller PC")
	}
}

func TestEnsureTrace_DoesNotDoubleStack(t *testing.T) {
	base := New("boom")
	if EnsureTrace(base) != base {
		t.Fatal("already stacked error should be returned unchanged")
	}
	plain := EnsureTrace(errSentinel)
	if plain == errSentinel {
		t.Fatal("plain error should gain a stack")
	}
	if !errors.Is(plain, errSentinel) {
		t.Fatal("stacked error should unwrap to the original")
	}
}
