package attendance

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestNewSubmissionValidate(t *testing.T) {
	valid := NewSubmission{
		Code:       "4821",
		Surname:    "Doe",
		OtherNames: "Jane",
		Matric:     "20231234567",
		DeviceID:   "dev-1",
	}

	tests := []struct {
		name     string
		mutate   func(*NewSubmission)
		wantFlds []string
	}{
		{name: "valid", mutate: func(ns *NewSubmission) {}},
		{name: "missing surname", mutate: func(ns *NewSubmission) { ns.Surname = "  " }, wantFlds: []string{"surname"}},
		{name: "missing other names", mutate: func(ns *NewSubmission) { ns.OtherNames = "" }, wantFlds: []string{"other_names"}},
		{name: "matric too short", mutate: func(ns *NewSubmission) { ns.Matric = "1234567890" }, wantFlds: []string{"matric"}},
		{name: "matric too long", mutate: func(ns *NewSubmission) { ns.Matric = "123456789012" }, wantFlds: []string{"matric"}},
		{name: "matric non-numeric", mutate: func(ns *NewSubmission) { ns.Matric = "1234567890a" }, wantFlds: []string{"matric"}},
		{name: "missing matric", mutate: func(ns *NewSubmission) { ns.Matric = "" }, wantFlds: []string{"matric"}},
		{
			name:     "everything missing",
			mutate:   func(ns *NewSubmission) { *ns = NewSubmission{} },
			wantFlds: []string{"surname", "other_names", "matric"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := valid
			tt.mutate(&ns)

			err := ns.Validate()
			if len(tt.wantFlds) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			vErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("Validate() error = %v (%T), want validator.ValidationErrors", err, err)
			}
			got := make(map[string]bool, len(vErrs))
			for _, vErr := range vErrs {
				got[vErr.Field()] = true
			}
			for _, fld := range tt.wantFlds {
				if !got[fld] {
					t.Errorf("Validate() missing error for field %q, got %v", fld, vErrs)
				}
			}
			if len(got) != len(tt.wantFlds) {
				t.Errorf("Validate() errors = %v, want fields %v", vErrs, tt.wantFlds)
			}
		})
	}
}

func TestNewSubmissionFullName(t *testing.T) {
	ns := NewSubmission{Surname: " Doe ", OtherNames: " Jane "}
	ns.Clean()
	if got, want := ns.FullName(), "Doe Jane"; got != want {
		t.Errorf("FullName() = %q, want %q", got, want)
	}
}
