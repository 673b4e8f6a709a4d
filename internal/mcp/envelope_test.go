package mcp

import (
	"encoding/json"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	b, err := EncodeRequest(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"method":"invoke","params":{}}` {
		t.Errorf("EncodeRequest(nil) = %s", b)
	}

	if _, err := EncodeRequest(map[string]any{"bad": make(chan int)}); err == nil {
		t.Error("EncodeRequest with unencodable params should fail")
	}
}

func TestDecodeRequest(t *testing.T) {
	params, err := DecodeRequest([]byte(`{"method":"invoke","params":{"expression":"1+1","n":3}}`))
	if err != nil {
		t.Fatalf("DecodeRequest error: %v", err)
	}
	if params["expression"] != "1+1" {
		t.Errorf("expression = %v", params["expression"])
	}
	if n, ok := params["n"].(json.Number); !ok || n.String() != "3" {
		t.Errorf("n = %#v, want json.Number 3", params["n"])
	}

	for _, body := range []string{`{"method":"call","params":{}}`, `not json`} {
		if _, err := DecodeRequest([]byte(body)); err == nil {
			t.Errorf("DecodeRequest(%s) should fail", body)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ok, err := SuccessEnvelope(map[string]any{"value": 11.0, "type": "numeric"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := DecodeResponse(ok)
	if err != nil {
		t.Fatalf("DecodeResponse(success) error: %v", err)
	}
	if env.Status != StatusSuccess || resultType(env.Result) != "numeric" {
		t.Errorf("decoded = %+v", env)
	}

	env, err = DecodeResponse(ErrorEnvelope("boom"))
	if err != nil {
		t.Fatalf("DecodeResponse(error) error: %v", err)
	}
	if env.Status != StatusError || env.Error != "boom" {
		t.Errorf("decoded = %+v", env)
	}
}

func TestDecodeResponse_NullCountsAsAbsent(t *testing.T) {
	env, err := DecodeResponse([]byte(`{"status":"error","result":null,"error":"nope"}`))
	if err != nil {
		t.Fatalf("DecodeResponse error: %v", err)
	}
	if env.Error != "nope" {
		t.Errorf("Error = %q", env.Error)
	}

	if _, err := DecodeResponse([]byte(`{"status":"success","result":null}`)); err == nil {
		t.Error("success with null result should be a protocol violation")
	}
}
