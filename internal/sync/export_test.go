package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Krajiyah/firebase-admin-util/internal/model"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
	"github.com/Krajiyah/firebase-admin-util/internal/store/memory"
)

func newRegistry(t *testing.T) model.Registry {
	t.Helper()
	ds := memory.New()
	t.Cleanup(func() { ds.Close() })
	reg, err := model.NewRegistry(ds, schema.MustCompile(schema.Raw{
		"User": {Path: "Users", Fields: map[string]string{"name": "string", "dog": "string:Dog"}},
		"Dog":  {Path: "Pets/Dogs", Fields: map[string]string{"name": "string"}},
	}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func seed(t *testing.T, reg model.Registry) {
	t.Helper()
	ctx := context.Background()
	reg["Dog"].CreateByManualKey(ctx, "d2", map[string]any{"name": "Fido"})
	reg["Dog"].CreateByManualKey(ctx, "d1", map[string]any{"name": "Rex"})
	reg["User"].CreateByManualKey(ctx, "u1", map[string]any{"name": "Ann", "dog": "d1"})
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), newRegistry(t), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.RecordCount != 0 || h.EntityCounts["Dog"] != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Records(t *testing.T) {
	reg := newRegistry(t)
	seed(t, reg)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), reg, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 2 dogs + 1 user
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	json.Unmarshal([]byte(lines[0]), &h)
	if h.RecordCount != 3 || h.EntityCounts["Dog"] != 2 || h.EntityCounts["User"] != 1 {
		t.Errorf("header = %+v", h)
	}

	var got []string
	for _, raw := range lines[1:] {
		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		if l.Type != "record" || l.Value["_updated"] == nil {
			t.Errorf("record line = %+v", l)
		}
		got = append(got, l.Entity+"/"+l.Key)
	}
	if strings.Join(got, ",") != "Dog/d1,Dog/d2,User/u1" {
		t.Errorf("record order = %v", got)
	}
}

func TestImportJSONL_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newRegistry(t)
	seed(t, src)
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, src, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newRegistry(t)
	n, err := ImportJSONL(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported %d records, want 3", n)
	}
	orig, _ := src["User"].GetByKey(ctx, "u1")
	restored, err := dst["User"].GetByKey(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByKey after import: %v", err)
	}
	if restored.Get("dog") != "d1" || !restored.TimeUpdated().Equal(orig.TimeUpdated()) {
		t.Errorf("restored = %s", restored)
	}
}

func TestImportJSONL_Errors(t *testing.T) {
	ctx := context.Background()
	hdr := `{"version":"1","type":"header"}`
	for _, tc := range []struct {
		name  string
		input string
	}{
		{"missing header", ""},
		{"record before header", `{"type":"record","entity":"Dog","key":"d1","value":{"name":"Rex"}}`},
		{"bad version", `{"version":"9","type":"header"}`},
		{"unknown entity", hdr + "\n" + `{"type":"record","entity":"Cat","key":"c1","value":{}}`},
		{"bad key", hdr + "\n" + `{"type":"record","entity":"Dog","key":"a.b","value":{}}`},
		{"unknown type", hdr + "\n" + `{"type":"config"}`},
		{"bad json", hdr + "\n{"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ImportJSONL(ctx, newRegistry(t), strings.NewReader(tc.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
