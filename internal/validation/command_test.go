package validation

import "testing"

func TestValidateCommandRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     CommandRequest
		wantOK  bool
	}{
		{
			name:   "valid",
			req:    CommandRequest{Command: "setpoint", UserID: "u1", UserName: "Alice"},
			wantOK: true,
		},
		{
			name:   "missing command",
			req:    CommandRequest{UserID: "u1", UserName: "Alice"},
			wantOK: false,
		},
		{
			name:   "missing user id",
			req:    CommandRequest{Command: "setpoint", UserName: "Alice"},
			wantOK: false,
		},
		{
			name:   "priority out of range",
			req:    CommandRequest{Command: "setpoint", UserID: "u1", Priority: intPtr(99)},
			wantOK: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			report := ValidateCommandRequest(c.req)
			if report.OK != c.wantOK {
				t.Errorf("OK = %v, want %v (%s)", report.OK, c.wantOK, report.String())
			}
		})
	}
}

func TestValidateWhitelist(t *testing.T) {
	whitelist := map[string]struct{}{"fanEnabled": {}, "fanSpeed": {}}
	r := ValidateWhitelist([]string{"fanEnabled", "unitEnable"}, whitelist)
	if r.OK {
		t.Fatal("expected validation failure for field outside whitelist")
	}
	if len(r.Errors) != 1 || r.Errors[0].Code != CodeCommandFieldNotAllowed {
		t.Errorf("unexpected errors: %+v", r.Errors)
	}
}

func intPtr(i int) *int { return &i }
