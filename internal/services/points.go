package services

// Point awards booked when a task settles. Presentation-adjacent
// bookkeeping; the state machine never reads these.
const (
	PointsTaskComplete    = 50
	PointsRequestComplete = 25
	PointsSpeedBonus      = 20
	PointsRatingBonus     = 15
	PointsReferralBonus   = 50
)

// Level is a rung on the neighborhood ladder.
type Level struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Points int    `json:"points"`
}

var levels = []Level{
	{1, "New Neighbor", 0},
	{2, "Friendly Face", 100},
	{3, "Helpful Hand", 300},
	{4, "Block Captain", 750},
	{5, "Street Legend", 1500},
	{6, "Community Hero", 3000},
	{7, "Neighborhood Champion", 5000},
	{8, "Local Legend", 10000},
}

// LevelFor returns the highest level whose threshold the points meet.
func LevelFor(points int) Level {
	current := levels[0]
	for _, l := range levels {
		if points >= l.Points {
			current = l
		}
	}
	return current
}
