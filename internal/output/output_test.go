package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"v8spy/internal/v8"
)

func TestWriteLayoutJSON(t *testing.T) {
	res := &v8.Result{Pid: 1234, Version: v8.Version{Major: 9, Minor: 6, Build: 180, Patch: 15}}
	res.Layout.Tag.SmiTag.Set = true // explicit zero
	res.Layout.FP.Function.Val = 24
	res.Layout.FP.Function.Set = true

	dir := filepath.Join(t.TempDir(), "artifacts")
	path, err := WriteLayoutJSON(dir, res)
	if err != nil {
		t.Fatalf("WriteLayoutJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if got["pid"].(float64) != 1234 {
		t.Errorf("pid = %v", got["pid"])
	}

	layout := got["layout"].(map[string]any)
	tags := layout["Tag"].(map[string]any)
	if tags["SmiTag"] != float64(0) {
		t.Errorf("set zero fact rendered as %v, want 0", tags["SmiTag"])
	}
	if tags["SmiTagMask"] != nil {
		t.Errorf("unset fact rendered as %v, want null", tags["SmiTagMask"])
	}
}
