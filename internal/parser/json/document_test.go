package json

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"equipdb/internal/record"
)

func TestLoadStore_RootObject_KeepsDocumentOrderAndRejectsNonObjects(t *testing.T) {
	t.Parallel()

	// Contract:
	//   - each object member becomes one record keyed by its member name
	//   - ids keep first-appearance order; a repeated id replaces the record in place
	//   - null members are ignored, other non-objects are rejected
	input := `{
		"3": {"id": 3, "name": "a"},
		"1": {"id": 1, "value_1": "1.5"},
		"skip": null,
		"bad": [1, 2],
		"3": {"id": 3, "name": "b"}
	}`

	st, err := LoadStore(context.Background(), strings.NewReader(input), "doc.json")
	if err != nil {
		t.Fatalf("LoadStore() err=%v, want nil", err)
	}
	if got, want := st.IDs(), []string{"3", "1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs()=%v, want %v", got, want)
	}
	r, ok := st.Get("3")
	if !ok {
		t.Fatalf("Get(3) missing")
	}
	if got := r.Get("name").String(); got != "b" {
		t.Fatalf("name=%q, want b (last duplicate wins)", got)
	}
	if id, ok := r.Get("id").AsInt(); !ok || id != 3 {
		t.Fatalf("id=%v ok=%v, want int 3", id, ok)
	}
	rej := st.Rejected()
	if len(rej) != 1 || rej[0].ID != "bad" || rej[0].Kind != record.KindList {
		t.Fatalf("Rejected()=%+v, want [{bad list}]", rej)
	}
	if st.Name() != "doc.json" {
		t.Fatalf("Name()=%q", st.Name())
	}
}

func TestLoadStore_NumbersKeepIntegerForm(t *testing.T) {
	t.Parallel()

	st, err := LoadStore(context.Background(), strings.NewReader(`{"a": {"i": 7, "f": 2.5, "big": 1e3}}`), "n")
	if err != nil {
		t.Fatalf("LoadStore() err=%v", err)
	}
	r, _ := st.Get("a")
	if r.Get("i").Kind() != record.KindInt {
		t.Fatalf("i kind=%s, want int", r.Get("i").Kind())
	}
	if r.Get("f").Kind() != record.KindReal {
		t.Fatalf("f kind=%s, want real", r.Get("f").Kind())
	}
	if f, ok := r.Get("big").AsFloat(); !ok || f != 1000 {
		t.Fatalf("big=%v ok=%v, want 1000", f, ok)
	}
}

func TestLoadStore_MalformedRoot(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"array", `[{"id": 1}]`},
		{"scalar", `42`},
		{"truncated", `{"1": {"id": 1}`},
		{"invalid", `{"1": {id: 1}}`},
		{"trailing", `{"1": {}} {"2": {}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadStore(context.Background(), strings.NewReader(tc.input), tc.name)
			if !errors.Is(err, ErrMalformedDocument) {
				t.Fatalf("err=%v, want ErrMalformedDocument", err)
			}
		})
	}
}

func TestLoadFile_MissingAndPresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadFile(context.Background(), filepath.Join(dir, "nope.json"))
	if !errors.Is(err, ErrDocumentMissing) {
		t.Fatalf("err=%v, want ErrDocumentMissing", err)
	}

	path := filepath.Join(dir, "weapon_name.json")
	if err := os.WriteFile(path, []byte(`{"10": {"id": 10, "name": "Gun"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if st.Len() != 1 || st.Name() != "weapon_name.json" {
		t.Fatalf("Len()=%d Name()=%q", st.Len(), st.Name())
	}
}

func TestLoadStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadStore(ctx, strings.NewReader(`{"1": {}}`), "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
