package daraja

import "testing"

func TestNormalizeMSISDN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "local 07 form", input: "0712345678", want: "254712345678"},
		{name: "local 01 form", input: "0112345678", want: "254112345678"},
		{name: "canonical form", input: "254712345678", want: "254712345678"},
		{name: "plus prefix", input: "+254712345678", want: "254712345678"},
		{name: "bare nine digits", input: "712345678", want: "254712345678"},
		{name: "spaces and dashes", input: "0712 345-678", want: "254712345678"},
		{name: "landline range rejected", input: "0202345678", wantErr: true},
		{name: "too short", input: "07123", wantErr: true},
		{name: "too long", input: "25471234567890", wantErr: true},
		{name: "letters", input: "07one23456", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMSISDN(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeMSISDN(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMSISDN(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeMSISDN(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMSISDNRoundTrip(t *testing.T) {
	// local rendering and re-normalization must agree
	canonical := "254712345678"
	local := FormatMSISDNLocal(canonical)
	if local != "0712345678" {
		t.Fatalf("FormatMSISDNLocal(%q) = %q", canonical, local)
	}
	back, err := NormalizeMSISDN(local)
	if err != nil {
		t.Fatalf("round trip normalize failed: %v", err)
	}
	if back != canonical {
		t.Errorf("round trip = %q, want %q", back, canonical)
	}
}

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("254712345678")
	h2 := HashPhone("254712345678")
	if h1 != h2 {
		t.Error("HashPhone is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("HashPhone length = %d, want 64 hex chars", len(h1))
	}
	if h1 == HashPhone("254712345679") {
		t.Error("distinct numbers hashed to the same value")
	}
	if h1 == "254712345678" {
		t.Error("hash leaked the plaintext")
	}
}

func TestIsHashedMSISDN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "plain msisdn", input: "254712345678", want: false},
		{name: "local msisdn", input: "0712345678", want: false},
		{name: "sha256 hex", input: HashPhone("254712345678"), want: true},
		{name: "short hex", input: "abc123", want: false},
		{name: "non hex garbage", input: "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHashedMSISDN(tt.input); got != tt.want {
				t.Errorf("IsHashedMSISDN(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
