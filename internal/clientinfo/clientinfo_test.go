package clientinfo

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    ClientInfo
		wantErr bool
	}{
		{
			name:   "full header",
			header: `rev="v1.4.0";surface="product_page";src="fetch"`,
			want:   ClientInfo{Rev: "v1.4.0", Surface: "product_page", Source: "fetch"},
		},
		{
			name:   "rev only",
			header: `rev="v1.2.0"`,
			want:   ClientInfo{Rev: "v1.2.0"},
		},
		{
			name:   "empty header from old revisions",
			header: "",
			want:   ClientInfo{},
		},
		{
			name:    "malformed",
			header:  `rev=;;;`,
			wantErr: true,
		},
		{
			name:   "non-string members ignored",
			header: `rev=3;surface="cart"`,
			want:   ClientInfo{Surface: "cart"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Error("Parse() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAtLeast(t *testing.T) {
	tests := []struct {
		rev  string
		min  string
		want bool
	}{
		{"v1.4.0", "v1.2.0", true},
		{"v1.2.0", "v1.2.0", true},
		{"v1.1.9", "v1.2.0", false},
		{"1.4.0", "1.2.0", true}, // missing v prefix normalized
		{"", "v1.2.0", false},    // headerless old revision
		{"garbage", "v1.2.0", false},
		{"v0.9.0", "", true}, // no minimum configured
	}

	for _, tt := range tests {
		c := ClientInfo{Rev: tt.rev}
		if got := c.AtLeast(tt.min); got != tt.want {
			t.Errorf("AtLeast(%q, min %q) = %v, want %v", tt.rev, tt.min, got, tt.want)
		}
	}
}
