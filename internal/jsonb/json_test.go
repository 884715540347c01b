package jsonb

import (
	"encoding/json"
	"testing"
)

func TestNullHandling(t *testing.T) {
	for _, j := range []JSON{nil, JSON(""), JSON("null")} {
		if !j.IsNull() {
			t.Fatalf("%q should be null", string(j))
		}
		v, err := j.Value()
		if err != nil || v != nil {
			t.Fatalf("null document should store SQL NULL, got %v (%v)", v, err)
		}
	}

	var j JSON
	if err := j.Scan(nil); err != nil || !j.IsNull() {
		t.Fatalf("scan nil: %v", err)
	}
}

func TestScanAndValue(t *testing.T) {
	var j JSON
	if err := j.Scan(`{"kty":"RSA"}`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	v, err := j.Value()
	if err != nil || v != `{"kty":"RSA"}` {
		t.Fatalf("value = %v (%v)", v, err)
	}
	if err := j.Scan([]byte(`{"n":"AQAB"}`)); err != nil || string(j) != `{"n":"AQAB"}` {
		t.Fatalf("scan bytes: %q (%v)", string(j), err)
	}
	if err := j.Scan(`{broken`); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if err := j.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := JSON(`{broken`).Value(); err == nil {
		t.Fatalf("expected error for invalid stored value")
	}
}

func TestJSONRoundTripInStruct(t *testing.T) {
	type row struct {
		Key JSON `json:"key"`
	}
	var r row
	if err := json.Unmarshal([]byte(`{"key":{"kty":"RSA","e":"AQAB"}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"key":{"kty":"RSA","e":"AQAB"}}` {
		t.Fatalf("unexpected output %s", out)
	}

	empty, err := json.Marshal(row{})
	if err != nil || string(empty) != `{"key":null}` {
		t.Fatalf("empty marshal: %s (%v)", empty, err)
	}
}
