package resolver

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantProgram string
		wantNil     bool
	}{
		{"Section 301 List 3", "9903.88.03", "section_301", false},
		{"Section 301 Exclusion", "9903.88.69", "section_301", false},
		{"IEEPA Fentanyl", "9903.01.24", "ieepa_fentanyl", false},
		{"Reciprocal Annex II", "9903.01.32", "ieepa_reciprocal", false},
		{"Copper Claim", "9903.78.01", "section_232_copper", false},
		{"Unknown Code", "9903.99.99", "", true},
		{"Not A Chapter 99 Code", "8544.42.90", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.code)
			if tt.wantNil {
				if res != nil {
					t.Fatalf("Resolve(%q) = %+v, want nil", tt.code, res)
				}
				return
			}
			if res == nil {
				t.Fatalf("Resolve(%q) = nil, want program %s", tt.code, tt.wantProgram)
			}
			if res.ProgramID != tt.wantProgram {
				t.Errorf("Resolve(%q).ProgramID = %s, want %s", tt.code, res.ProgramID, tt.wantProgram)
			}
		})
	}
}

func TestResolve_ExclusionFlag(t *testing.T) {
	res := Resolve("9903.88.69")
	if res == nil || !res.IsExclusion {
		t.Fatalf("9903.88.69 should resolve as an exclusion, got %+v", res)
	}
	res = Resolve("9903.88.03")
	if res == nil || res.IsExclusion {
		t.Fatalf("9903.88.03 should not be an exclusion, got %+v", res)
	}
}

func TestResolveFromContext(t *testing.T) {
	tests := []struct {
		name     string
		context  string
		wantCode string
		wantNil  bool
	}{
		{
			"Code In Narrative",
			"products of China classified under heading 9903.88.03 shall be subject to an additional 25 percent",
			"9903.88.03", false,
		},
		{
			"First Known Code Wins",
			"see 9903.99.99 and also 9903.01.24 for the applicable rate",
			"9903.01.24", false,
		},
		{"No Code", "an additional duty of 25 percent ad valorem", "", true},
		{"Base HTS Only", "subheading 8544.42.9090 of the HTSUS", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveFromContext(tt.context)
			if tt.wantNil {
				if res != nil {
					t.Fatalf("got %+v, want nil", res)
				}
				return
			}
			if res == nil || res.Code != tt.wantCode {
				t.Fatalf("got %+v, want code %s", res, tt.wantCode)
			}
		})
	}
}

func TestMaterialCodeVariant(t *testing.T) {
	tests := []struct {
		material string
		hts      string
		want     string
	}{
		{"steel", "7326908688", "primary"},
		{"steel", "7210490091", "primary"},
		{"steel", "8544429090", "derivative"},
		{"aluminum", "7616995190", "primary"},
		{"aluminum", "8544429090", "derivative"},
		{"copper", "7411101030", "primary"},
		{"copper", "8544429090", "derivative"},
	}
	for _, tt := range tests {
		if got := MaterialCodeVariant(tt.material, tt.hts); got != tt.want {
			t.Errorf("MaterialCodeVariant(%s, %s) = %s, want %s", tt.material, tt.hts, got, tt.want)
		}
	}
}

func TestCodesForMaterial_CopperFallsBackToPrimaryPair(t *testing.T) {
	claim, disclaim, ok := CodesForMaterial("copper", "8544429090")
	if !ok {
		t.Fatal("expected a code pair for copper derivatives")
	}
	if claim != "9903.78.01" || disclaim != "9903.78.02" {
		t.Errorf("copper pair = (%s, %s), want (9903.78.01, 9903.78.02)", claim, disclaim)
	}
}

func TestCodesForMaterial_SteelPrimary(t *testing.T) {
	claim, disclaim, ok := CodesForMaterial("steel", "7326908688")
	if !ok || claim != "9903.80.01" || disclaim != "9903.80.02" {
		t.Errorf("steel primary pair = (%s, %s, %v), want (9903.80.01, 9903.80.02, true)", claim, disclaim, ok)
	}
}
