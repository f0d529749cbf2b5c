package actions

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]string
	}{
		{
			name: "empty mapping",
			m:    map[string]string{},
		},
		{
			name: "single action",
			m:    map[string]string{"deploy": "echo hi"},
		},
		{
			name: "multiple actions",
			m: map[string]string{
				"deploy":  "systemctl restart app",
				"migrate": "cd /srv/app && ./migrate up",
				"backup":  "tar czf /tmp/b.tgz /srv/data",
			},
		},
		{
			name: "value containing double quotes",
			m:    map[string]string{"greet": `echo "hello world"`},
		},
		{
			name: "value containing backslashes",
			m:    map[string]string{"win": `type C:\Users\admin\notes.txt`},
		},
		{
			name: "value containing the entry separator token",
			m:    map[string]string{"odd": "echo @@;;@@ done"},
		},
		{
			name: "value containing the key-value separator token",
			m:    map[string]string{"odd": "echo @@==@@ done"},
		},
		{
			name: "value containing backslash-s sequence",
			m:    map[string]string{"sed": `sed 's/\s\+/ /g' in.txt`},
		},
		{
			name: "value mixing every reserved character",
			m: map[string]string{
				"mix": `echo "a\\b" @@;;@@ @@==@@ \" \s \k end`,
			},
		},
		{
			// A value ending in a partial entry separator must not fuse
			// with the joined separator into a full one.
			name: "value ending in a partial entry separator",
			m: map[string]string{
				"ox": "@@;;@",
				"px": "@==@@",
			},
		},
		{
			name: "value that is a partial key-value separator",
			m:    map[string]string{"odd": "@@==@"},
		},
		{
			name: "values ending and starting with at-signs",
			m: map[string]string{
				"head": "@@",
				"tail": "echo done @",
				"both": "@;;@@ mid @@;;",
			},
		},
		{
			name: "value containing backslash-a sequence",
			m:    map[string]string{"awk": `awk '{print "\a"}'`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.m)
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%q) returned error: %v", encoded, err)
			}
			if !reflect.DeepEqual(decoded, tt.m) {
				t.Errorf("round trip mismatch:\n  in:  %#v\n  enc: %q\n  out: %#v", tt.m, encoded, decoded)
			}
		})
	}
}

func TestEncodeEmptyMapping(t *testing.T) {
	if got := Encode(nil); got != "" {
		t.Errorf("Encode(nil) = %q, want empty string", got)
	}
	if got := Encode(map[string]string{}); got != "" {
		t.Errorf("Encode(empty) = %q, want empty string", got)
	}
}

func TestDecodeEmptyString(t *testing.T) {
	m, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\") returned error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("Decode(\"\") = %#v, want empty mapping", m)
	}
}

func TestDecodeLegacyTokenEscapes(t *testing.T) {
	// Older encoders emitted \s and \k for whole reserved tokens; those
	// strings must keep decoding.
	m, err := Decode(`deploy@@==@@echo \s and \k done`)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	want := "echo @@;;@@ and @@==@@ done"
	if m["deploy"] != want {
		t.Errorf("decoded legacy escapes = %q, want %q", m["deploy"], want)
	}
}

func TestDecodeMalformedEntry(t *testing.T) {
	if _, err := Decode("no-separator-here"); err == nil {
		t.Error("expected error for entry without key-value separator")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	first := Encode(m)
	for i := 0; i < 10; i++ {
		if got := Encode(m); got != first {
			t.Fatalf("Encode not deterministic: %q vs %q", first, got)
		}
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name       string
		actionName string
		expectErr  bool
	}{
		{name: "valid name", actionName: "deploy"},
		{name: "valid with digits and hyphen", actionName: "step-2"},
		{name: "empty name", actionName: "", expectErr: true},
		{name: "name with spaces", actionName: "do thing", expectErr: true},
		{name: "name with slash", actionName: "a/b", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]string{}
			err := Add(m, tt.actionName, "true")
			if tt.expectErr {
				if err == nil {
					t.Errorf("Add(%q) succeeded, want error", tt.actionName)
				}
				return
			}
			if err != nil {
				t.Fatalf("Add(%q) returned error: %v", tt.actionName, err)
			}
			if m[tt.actionName] != "true" {
				t.Errorf("action %q not stored", tt.actionName)
			}
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	m := map[string]string{"deploy": "echo hi"}
	if err := Add(m, "deploy", "echo again"); err == nil {
		t.Error("expected error adding duplicate action name")
	}
	if m["deploy"] != "echo hi" {
		t.Error("duplicate add must not overwrite the existing command")
	}
}

func TestNamesSorted(t *testing.T) {
	m := map[string]string{"zeta": "1", "alpha": "2", "mid": "3"}
	want := []string{"alpha", "mid", "zeta"}
	if got := Names(m); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestByIndexUsesSortedOrder(t *testing.T) {
	m := map[string]string{"zeta": "1", "alpha": "2", "mid": "3"}

	name, err := ByIndex(m, 1)
	if err != nil {
		t.Fatalf("ByIndex(1) returned error: %v", err)
	}
	if name != "alpha" {
		t.Errorf("ByIndex(1) = %q, want %q (lexicographic, not insertion order)", name, "alpha")
	}

	name, err = ByIndex(m, 3)
	if err != nil {
		t.Fatalf("ByIndex(3) returned error: %v", err)
	}
	if name != "zeta" {
		t.Errorf("ByIndex(3) = %q, want %q", name, "zeta")
	}

	for _, idx := range []int{0, 4, -1} {
		if _, err := ByIndex(m, idx); err == nil {
			t.Errorf("ByIndex(%d) succeeded, want out-of-range error", idx)
		}
	}
}

func TestEditAndDeleteByIndex(t *testing.T) {
	m := map[string]string{"b": "old", "a": "keep"}

	name, err := Edit(m, 2, "new")
	if err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if name != "b" || m["b"] != "new" {
		t.Errorf("Edit(2) changed %q to %q, want b=new", name, m[name])
	}

	name, err = Delete(m, 1)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if name != "a" {
		t.Errorf("Delete(1) removed %q, want %q", name, "a")
	}
	if _, ok := m["a"]; ok {
		t.Error("action a still present after delete")
	}
	if len(m) != 1 {
		t.Errorf("mapping has %d entries after delete, want 1", len(m))
	}
}
