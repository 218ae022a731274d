package models

import (
	"encoding/json"
	"testing"
)

func TestKindJSON(t *testing.T) {
	for _, k := range []Kind{KindFile, KindFolder} {
		b, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got Kind
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != k {
			t.Errorf("round trip %v -> %s -> %v", k, b, got)
		}
	}

	var k Kind
	if err := json.Unmarshal([]byte(`"weird"`), &k); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", k)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Asset{
		MediaID:    "1",
		Kind:       KindFolder,
		Checksum:   &Checksum{Algorithm: "sha1", Value: "aa"},
		Attributes: map[string]any{"color": "red"},
		Children:   []*Asset{{MediaID: "2", Kind: KindFile, Name: "a"}},
	}

	c := orig.Clone()
	c.Checksum.Value = "bb"
	c.Attributes["color"] = "blue"
	c.Children[0].Name = "b"

	if orig.Checksum.Value != "aa" {
		t.Error("checksum shared with clone")
	}
	if orig.Attributes["color"] != "red" {
		t.Error("attributes shared with clone")
	}
	if orig.Children[0].Name != "a" {
		t.Error("children shared with clone")
	}
}

func TestLocationIsRoot(t *testing.T) {
	tests := []struct {
		loc  Location
		want bool
	}{
		{Location{}, true},
		{Location{ID: RootID}, true},
		{Location{ID: "42"}, false},
	}
	for _, tt := range tests {
		if got := tt.loc.IsRoot(); got != tt.want {
			t.Errorf("%+v.IsRoot() = %v, want %v", tt.loc, got, tt.want)
		}
	}
}
