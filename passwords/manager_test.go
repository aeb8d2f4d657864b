package passwords

import (
	"encoding/base64"
	"strings"
	"testing"
)

var alice = Subject{LoginName: "Alice"}

func TestDriverOrder(t *testing.T) {
	expected := []string{
		"argon2id", "argon2i", "bcrypt_2y", "bcrypt", "salted_md5", "phpass",
		"convert_password", "sha1_smf", "sha1", "sha1_wcf1", "md5_mybb",
		"md5_vb", "md5_phpbb2", "sha_xf1", "md5",
	}
	got := NewManager(Drivers()...).Names()
	if strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Errorf("driver order = %v, expected %v", got, expected)
	}
}

func TestKnownHashes(t *testing.T) {
	m := NewManager(Drivers()...)
	cases := []struct {
		password, hash, driver string
	}{
		{"test12345", "$P$9IQRaTwmfeRo7ud9Fh4E2PdI0S3r.L0", "phpass"},
		{"secret123", "$H$9abcdefghPNK23y9v9h4RfTIXzN5ow0", "salted_md5"},
		{"café", "$CP$961f50f6282239d09e48f812c1ca7276", "convert_password"},
		{"café", "$CP$07117fe4a1ebd544965dc19573183da2", "convert_password"},
		{"secret", "$smf$be2ce0751d4a56709c4b7a4ba81acc6bf754465e", "sha1_smf"},
		{"secret", "$sha1$e5e9fa1ba31ecd1ae84f75caaa474f3a663f05f4", "sha1"},
		{"secret", "$wcf1$salt1234$1c0b7fc78ea545be703afc0074d11062922477fc", "sha1_wcf1"},
		{"secret", "$md5_mybb$salt1234$b6576718b6e626645666d8e0d78b5fd7", "md5_mybb"},
		{"secret", "$md5_vb$salt1234$8749b08da41b312a0e976169c02148e2", "md5_vb"},
		{"secret", "$md5_phpbb2$5ebe2294ecd0e0f08eab7690d2a6ee69", "md5_phpbb2"},
		{"a&b", "$md5_phpbb2$40014f2a3d56f4f7fdb387f476d213d4", "md5_phpbb2"},
		{"secret", "$xf1$salt1234$d9ae7d0cfd1bf240bad7bc489d573f29c0d5e05499695f66ba8040e84da0dfd8", "sha_xf1"},
		{"secret", "$xf1$salt1234$4147ebc163ec821c2e624935cc678429fa3c385b", "sha_xf1"},
		{"secret", "5ebe2294ecd0e0f08eab7690d2a6ee69", "md5"},
		{"secret", "5EBE2294ECD0E0F08EAB7690D2A6EE69", "md5"},
	}
	for i, c := range cases {
		d := m.DriverFor(c.hash)
		if d == nil || d.Name() != c.driver {
			t.Errorf("%d: DriverFor(%q) = %v, expected %s", i, c.hash, d, c.driver)
			continue
		}
		if !m.Check(c.password, c.hash, alice) {
			t.Errorf("%d: %s rejected the right password", i, c.driver)
		}
		if m.Check(c.password+"x", c.hash, alice) {
			t.Errorf("%d: %s accepted a wrong password", i, c.driver)
		}
	}
}

func TestHashAndCheck(t *testing.T) {
	m := NewManager(Drivers()...)
	for _, name := range m.Names() {
		h, err := m.Hash(name, "s3crét pass", alice)
		if err != nil {
			t.Errorf("%s: Hash failed: %s", name, err)
			continue
		}
		if d := m.DriverFor(h); d == nil || d.Name() != name {
			t.Errorf("%s: hash %q is recognized by %v", name, h, d)
		}
		if !m.Check("s3crét pass", h, alice) {
			t.Errorf("%s: rejected the right password", name)
		}
		if m.Check("s3cret pass", h, alice) {
			t.Errorf("%s: accepted a wrong password", name)
		}
	}
}

func TestCheckRejects(t *testing.T) {
	m := NewManager(Drivers()...)
	bc, err := m.Hash("bcrypt_2y", "secret", alice)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		password, hash string
	}{
		{"", bc},
		{"", "$CP$d41d8cd98f00b204e9800998ecf8427e"}, // md5("")
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"secret", ""},
		{"secret", "plaintext"},
		{"secret", "$unknown$5ebe2294ecd0e0f08eab7690d2a6ee69"},
		{"secret", "$H$9abcdefgh"},                       // truncated
		{"secret", "$wcf1$e5e9fa1ba31ecd1ae84f75caaa47"}, // no salt
		{"secret", "$xf1$salt1234$abcdef"},               // bad digest length
		{"secret", "$argon2id$v=16$m=65536,t=4,p=1$c2FsdHNhbHQ$aGFzaA"},
		{"secret", "$argon2id$v=19$m=65536,t=4$c2FsdHNhbHQ$aGFzaA"},
	}
	for i, c := range cases {
		if m.Check(c.password, c.hash, alice) {
			t.Errorf("%d: Check(%q, %q) accepted", i, c.password, c.hash)
		}
	}
}

func TestCheckOverlongPassword(t *testing.T) {
	m := NewManager(Drivers()...)
	for _, n := range []int{MaxPasswordLen, MaxPasswordLen + 1} {
		password := strings.Repeat("x", n)
		h, err := m.Hash("md5", password, alice)
		if err != nil {
			t.Fatal(err)
		}
		if got, expected := m.Check(password, h, alice), n <= MaxPasswordLen; got != expected {
			t.Errorf("%d byte password: Check = %t, expected %t", n, got, expected)
		}
	}
}

func TestSMFNeedsLoginName(t *testing.T) {
	m := NewManager(Drivers()...)
	if m.Check("secret", "$smf$be2ce0751d4a56709c4b7a4ba81acc6bf754465e", Subject{}) {
		t.Errorf("sha1_smf accepted without a login name")
	}
	if _, err := m.Hash("sha1_smf", "secret", Subject{}); err == nil {
		t.Errorf("sha1_smf hashed without a login name")
	}
}

func TestArgon2PaddedBase64(t *testing.T) {
	d := &argon2Driver{name: "argon2i"}
	h, err := d.Hash("secret", alice)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(h, "$")
	for _, i := range []int{4, 5} {
		b, err := base64.RawStdEncoding.DecodeString(parts[i])
		if err != nil {
			t.Fatal(err)
		}
		parts[i] = base64.StdEncoding.EncodeToString(b)
	}
	padded := strings.Join(parts, "$")
	if !d.Check("secret", padded, alice) {
		t.Errorf("padded PHC string %q rejected", padded)
	}
}

func TestBcryptLongPassword(t *testing.T) {
	long := strings.Repeat("p", 80)
	d := &bcryptDriver{name: "bcrypt", prefixes: []string{"$2a$"}}
	h, err := d.Hash(long, alice)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Check(long, h, alice) {
		t.Errorf("long password rejected")
	}
	if !d.Check(long[:72], h, alice) {
		t.Errorf("password is not truncated to 72 bytes")
	}
}

func TestNewManagerFor(t *testing.T) {
	m, err := NewManagerFor([]string{"md5", "bcrypt_2y", "argon2id"})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(m.Names(), ","); got != "argon2id,bcrypt_2y,md5" {
		t.Errorf("Names() = %s", got)
	}
	if m.Check("secret", "$sha1$e5e9fa1ba31ecd1ae84f75caaa474f3a663f05f4", alice) {
		t.Errorf("disabled driver was used")
	}
	if _, err := NewManagerFor([]string{"rot13"}); err == nil {
		t.Errorf("unknown driver accepted")
	}
	all, err := NewManagerFor(nil)
	if err != nil || len(all.Names()) != len(Drivers()) {
		t.Errorf("NewManagerFor(nil) = %v, %v", all.Names(), err)
	}
}

func TestEncode64(t *testing.T) {
	// 16 bytes of MD5 always encode to 22 characters.
	if got := encode64(make([]byte, 16)); len(got) != 22 || got != strings.Repeat(".", 22) {
		t.Errorf("encode64(zeros) = %q", got)
	}
}
