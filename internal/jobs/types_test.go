package jobs

import "testing"

func TestStatusIsTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{Status("unknown"), false},
	}
	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestSortRowsBySerialIsStable(t *testing.T) {
	rows := []Row{
		{SerialNumber: 2, ProductName: "Gamma"},
		{SerialNumber: 1, ProductName: "AlphaFirst"},
		{SerialNumber: 1, ProductName: "AlphaSecond"},
	}
	sortRowsBySerial(rows)

	want := []string{"AlphaFirst", "AlphaSecond", "Gamma"}
	for i, name := range want {
		if rows[i].ProductName != name {
			t.Fatalf("rows[%d] = %q, want %q", i, rows[i].ProductName, name)
		}
	}
}
