package exoscale

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestStringToSignReferenceVector(t *testing.T) {
	pairs, err := Canonicalize("listVirtualMachines", "K", map[string]string{"id": "abc-123"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	got := StringToSign(pairs)
	want := "apikey=k&command=listvirtualmachines&id=abc-123"
	if got != want {
		t.Fatalf("StringToSign = %q, want %q", got, want)
	}

	mac := hmac.New(sha1.New, []byte("S"))
	mac.Write([]byte(want))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sig := Sign("S", pairs)
	if sig != expected {
		t.Fatalf("Sign = %q, want %q", sig, expected)
	}
	if sig != "pBozpmM6ZwOSS6mrDzfJGYDtafc=" {
		t.Fatalf("Sign = %q, want known vector", sig)
	}
}

func TestSignKnownVectorWithEscaping(t *testing.T) {
	pairs, err := Canonicalize("deployVirtualMachine", "Key-ABC", map[string]string{
		"name":        "Game Server*1",
		"displayname": "a/b+c",
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	wantCanonical := "apikey=key-abc&command=deployvirtualmachine&displayname=a%2fb%2bc&name=game%20server*1"
	if got := StringToSign(pairs); got != wantCanonical {
		t.Fatalf("StringToSign = %q, want %q", got, wantCanonical)
	}
	if got := Sign("Secret/xyz", pairs); got != "rafPlzk9u/5B3Cz9evzzdMLpj4M=" {
		t.Fatalf("Sign = %q, want rafPlzk9u/5B3Cz9evzzdMLpj4M=", got)
	}

	wantQuery := "apikey=Key-ABC&command=deployVirtualMachine&displayname=a%2Fb%2Bc&name=Game+Server%2A1&signature=rafPlzk9u%2F5B3Cz9evzzdMLpj4M%3D"
	if got := EncodeQuery(pairs, Sign("Secret/xyz", pairs)); got != wantQuery {
		t.Fatalf("EncodeQuery = %q, want %q", got, wantQuery)
	}
}

func TestEscapeValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123", "abc-123"},
		{"a*b", "a*b"},
		{"a b", "a%20b"},
		{"a/b", "a%2Fb"},
		{"a+b", "a%2Bb"},
		{"~._-", "~._-"},
		{"a*b c/d+e~f", "a*b%20c%2Fd%2Be~f"},
		{"Ünï", "%C3%9Cn%C3%AF"},
		{"=&?", "%3D%26%3F"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := EscapeValue(tt.in); got != tt.want {
				t.Errorf("EscapeValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAsteriskIsLiteralInStringToSign(t *testing.T) {
	pairs, err := Canonicalize("listVirtualMachines", "key", map[string]string{"name": "web*"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	s := StringToSign(pairs)
	if !strings.Contains(s, "name=web*") {
		t.Fatalf("expected literal '*' in %q", s)
	}

	// A generic query encoder escapes '*' and must not agree with the signer.
	generic := strings.ToLower("apikey=key&command=listVirtualMachines&name=" + url.QueryEscape("web*"))
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(generic))
	genericSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if genericSig == Sign("secret", pairs) {
		t.Fatal("signature over %2A-escaped string should differ")
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize("cmd", "key", map[string]string{"b": "2", "a": "1"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize("cmd", "key", map[string]string{"a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	wantKeys := []string{"a", "apikey", "b", "command"}
	for i, p := range a {
		if p.Key != wantKeys[i] {
			t.Fatalf("key[%d] = %q, want %q", i, p.Key, wantKeys[i])
		}
	}
	if StringToSign(a) != StringToSign(b) {
		t.Fatalf("canonical strings differ: %q vs %q", StringToSign(a), StringToSign(b))
	}
	if Sign("s", a) != Sign("s", b) {
		t.Fatal("signatures differ for the same params")
	}
}

func TestCanonicalizeRejectsReservedKeys(t *testing.T) {
	for _, key := range []string{"command", "apikey", "signature"} {
		_, err := Canonicalize("cmd", "key", map[string]string{key: "x"})
		if !errors.Is(err, ErrReservedParam) {
			t.Errorf("param %q: err = %v, want ErrReservedParam", key, err)
		}
	}
}

func TestSignatureDeterministic(t *testing.T) {
	signer, err := NewSigner("key", "secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	params := map[string]string{"id": "vm-1", "zone": "ch-gva-2"}

	q1, err := signer.BuildSignedQuery("listVirtualMachines", params)
	if err != nil {
		t.Fatalf("BuildSignedQuery: %v", err)
	}
	q2, err := signer.BuildSignedQuery("listVirtualMachines", params)
	if err != nil {
		t.Fatalf("BuildSignedQuery: %v", err)
	}
	if q1 != q2 {
		t.Fatalf("queries differ: %q vs %q", q1, q2)
	}
}

func TestSignatureChangesWithEachValue(t *testing.T) {
	base := map[string]string{"id": "vm-1", "zone": "ch-gva-2"}
	pairs, _ := Canonicalize("listVirtualMachines", "key", base)
	baseSig := Sign("secret", pairs)

	for key := range base {
		mutated := map[string]string{}
		for k, v := range base {
			mutated[k] = v
		}
		mutated[key] = base[key] + "x"
		p, _ := Canonicalize("listVirtualMachines", "key", mutated)
		if Sign("secret", p) == baseSig {
			t.Errorf("changing %q did not change the signature", key)
		}
	}

	p, _ := Canonicalize("stopVirtualMachine", "key", base)
	if Sign("secret", p) == baseSig {
		t.Error("changing the command did not change the signature")
	}
	p, _ = Canonicalize("listVirtualMachines", "other", base)
	if Sign("secret", p) == baseSig {
		t.Error("changing the api key did not change the signature")
	}
	if Sign("other", pairs) == baseSig {
		t.Error("changing the secret did not change the signature")
	}
}

func TestLowerCasingOnlyAffectsSignatureInput(t *testing.T) {
	signer, _ := NewSigner("MyKey", "secret")
	query, err := signer.BuildSignedQuery("listVirtualMachines", map[string]string{"name": "FactorioHost"})
	if err != nil {
		t.Fatalf("BuildSignedQuery: %v", err)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if got := values.Get("name"); got != "FactorioHost" {
		t.Errorf("name = %q, want original casing", got)
	}
	if got := values.Get("apikey"); got != "MyKey" {
		t.Errorf("apikey = %q, want MyKey", got)
	}
	if got := values.Get("command"); got != "listVirtualMachines" {
		t.Errorf("command = %q, want listVirtualMachines", got)
	}

	pairs, _ := Canonicalize("listVirtualMachines", "MyKey", map[string]string{"name": "FactorioHost"})
	if s := StringToSign(pairs); !strings.Contains(s, "name=factoriohost") {
		t.Errorf("StringToSign = %q, want lower-cased value", s)
	}
	if got := values.Get("signature"); got != Sign("secret", pairs) {
		t.Errorf("signature = %q, want %q", got, Sign("secret", pairs))
	}
}

func TestEncodeQueryKeepsSortedOrderAndAppendsSignature(t *testing.T) {
	pairs, _ := Canonicalize("startVirtualMachine", "k", map[string]string{"id": "x"})
	q := EncodeQuery(pairs, "sig")
	if q != "apikey=k&command=startVirtualMachine&id=x&signature=sig" {
		t.Fatalf("EncodeQuery = %q", q)
	}
}

func TestMissingCredentials(t *testing.T) {
	cases := []struct{ key, secret string }{
		{"", "secret"},
		{"key", ""},
		{"", ""},
	}
	for _, c := range cases {
		if _, err := NewSigner(c.key, c.secret); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("NewSigner(%q, %q) err = %v, want ErrMissingCredentials", c.key, c.secret, err)
		}
	}

	var zero Signer
	if _, err := zero.BuildSignedQuery("listVirtualMachines", nil); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("zero Signer err = %v, want ErrMissingCredentials", err)
	}
}
