package services

import "testing"

func TestLevelFor(t *testing.T) {
	tests := []struct {
		points    int
		wantLevel int
		wantTitle string
	}{
		{0, 1, "New Neighbor"},
		{99, 1, "New Neighbor"},
		{100, 2, "Friendly Face"},
		{299, 2, "Friendly Face"},
		{300, 3, "Helpful Hand"},
		{750, 4, "Block Captain"},
		{1500, 5, "Street Legend"},
		{3000, 6, "Community Hero"},
		{5000, 7, "Neighborhood Champion"},
		{9999, 7, "Neighborhood Champion"},
		{10000, 8, "Local Legend"},
		{1_000_000, 8, "Local Legend"},
	}
	for _, tc := range tests {
		got := LevelFor(tc.points)
		if got.Level != tc.wantLevel || got.Title != tc.wantTitle {
			t.Errorf("LevelFor(%d) = %d %q, want %d %q", tc.points, got.Level, got.Title, tc.wantLevel, tc.wantTitle)
		}
	}
}

func TestLevelFor_NegativePoints(t *testing.T) {
	if got := LevelFor(-10); got.Level != 1 {
		t.Errorf("LevelFor(-10) = %d, want level 1", got.Level)
	}
}
