package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "font": true, "media": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"Media":      true,
		"Stylesheet": false,
		"Script":     false,
		"XHR":        false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.Mode != Headless || m.cfg.Logger == nil {
		t.Fatalf("cfg = %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Fatal("browser before Start")
	}
	if m.Remote() {
		t.Fatal("local manager reported remote")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTab_CloseAttachedIsNoop(t *testing.T) {
	tab := &Tab{}
	if err := tab.Close(); err != nil {
		t.Fatal(err)
	}
}
