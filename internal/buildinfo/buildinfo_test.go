package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	if len(info) != len(Keys) {
		t.Errorf("Info() has %d keys, Keys lists %d", len(info), len(Keys))
	}
	for _, key := range Keys {
		if info[key] == "" {
			t.Errorf("Info()[%q] is empty", key)
		}
	}
	if got, want := info["platform"], runtime.GOOS+"/"+runtime.GOARCH; got != want {
		t.Errorf("platform = %q, want %q", got, want)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "hairmqtt "+Version) {
		t.Errorf("String() = %q, want prefix %q", s, "hairmqtt "+Version)
	}
	if Uptime() < 0 {
		t.Error("Uptime() is negative")
	}
}
