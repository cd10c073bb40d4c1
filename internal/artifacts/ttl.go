package artifacts

import "time"

// Retention windows for on-disk artifacts.
const (
	TTLExplanations = 7 * 24 * time.Hour // per-score explanation JSON and waterfall graphs
	TTLStaging      = 24 * time.Hour     // abandoned bundle staging directories
)

// explanationExtensions are the file types swept by the retention policy.
var explanationExtensions = map[string]bool{
	".json": true,
	".svg":  true,
	".png":  true,
}
